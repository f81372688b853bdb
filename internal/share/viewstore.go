package share

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
)

// View は共有画面の1回の表示。表示ごとに独立したCoordinatorを持つ。
type View struct {
	ID          string
	InvoiceID   string
	UserID      string
	Coordinator *Coordinator
}

// ViewStore は共有ビューをTTL付きでメモリに保持する。
// 完了後の画面遷移でビューは破棄され、以降の操作はSHARE_VIEW_NOT_FOUNDになる。
type ViewStore struct {
	views         *cache.Cache
	redirectDelay time.Duration
	metrics       metrics.MetricsCollector
}

// NewViewStore はViewStoreを生成する。
func NewViewStore(ttl, redirectDelay time.Duration, collector metrics.MetricsCollector) *ViewStore {
	s := &ViewStore{
		views:         cache.New(ttl, ttl/2),
		redirectDelay: redirectDelay,
		metrics:       collector,
	}
	s.views.OnEvicted(func(_ string, v any) {
		if view, ok := v.(*View); ok {
			view.Coordinator.Stop()
		}
	})
	return s
}

// Create は新しいビューを作成する。
func (s *ViewStore) Create(invoiceID, userID string) *View {
	id := uuid.New().String()
	view := &View{
		ID:        id,
		InvoiceID: invoiceID,
		UserID:    userID,
	}
	view.Coordinator = NewCoordinator(s.redirectDelay, func() { s.views.Delete(id) }, s.metrics)
	s.views.SetDefault(id, view)
	return view
}

// Get はビューを取得する。存在しない場合と、請求書・ユーザーが一致しない場合は区別しない。
func (s *ViewStore) Get(viewID, invoiceID, userID string) (*View, error) {
	v, ok := s.views.Get(viewID)
	if !ok {
		return nil, model.NewShareViewNotFoundError()
	}
	view := v.(*View)
	if view.InvoiceID != invoiceID || view.UserID != userID {
		return nil, model.NewShareViewNotFoundError()
	}
	return view, nil
}

// Evict はビューを破棄する。
func (s *ViewStore) Evict(viewID string) {
	s.views.Delete(viewID)
}

// Len は保持しているビューの数を返す。
func (s *ViewStore) Len() int {
	return s.views.ItemCount()
}
