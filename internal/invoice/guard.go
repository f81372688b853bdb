package invoice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
)

// Policy は他ユーザーの請求書へのアクセスをどう見せるかを決める。
type Policy struct {
	// LeakExistence がtrueの場合はIDで取得してから所有者を比較し、
	// 不一致をForbiddenとして返す（存在は漏れる）。
	// falseの場合は(ID, 所有者)の組で1回だけ検索し、不一致をNotFoundと区別しない。
	LeakExistence bool
}

var (
	// FetchThenCompare はJSON APIの取得エンドポイントが使うポリシー（404と403を区別する）。
	FetchThenCompare = Policy{LeakExistence: true}
	// Scoped はプレビュー・共有・エクスポートが使うポリシー（不一致は404）。
	Scoped = Policy{LeakExistence: false}
)

// 拒否理由（メトリクスのラベル）
const (
	DenyUnauthenticated = "unauthenticated"
	DenyInvalidID       = "invalid_id"
	DenyNotFound        = "not_found"
	DenyForbidden       = "forbidden"
)

// Finder は所有権ガードが必要とする請求書の検索インターフェース。
type Finder interface {
	FindByID(ctx context.Context, id string) (*model.Invoice, error)
	FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Invoice, error)
}

// Guard はセッションのユーザーと請求書IDから、アクセス可能な請求書を1件解決する。
// 判定順序は 未認証 → ID形式 → 存在 → 所有者 で、ID形式が不正な場合はストアにアクセスしない。
type Guard struct {
	finder  Finder
	metrics metrics.MetricsCollector
}

// NewGuard はGuardを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewGuard(finder Finder, collector metrics.MetricsCollector) *Guard {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Guard{finder: finder, metrics: collector}
}

// ValidID はIDが請求書IDとして有効な形式（ハイフン区切りの正規UUID表記）かを返す。
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Resolve はポリシーに従って請求書を解決する。
// 返すエラーは *model.APIError（UNAUTHORIZED, INVALID_INVOICE_ID, INVOICE_NOT_FOUND, FORBIDDEN）か、
// ストア障害をラップしたエラーのいずれか。
func (g *Guard) Resolve(ctx context.Context, userID, invoiceID string, policy Policy) (*model.Invoice, error) {
	if userID == "" {
		g.metrics.RecordOwnershipDenial(DenyUnauthenticated)
		return nil, model.NewUnauthorizedError()
	}
	if !ValidID(invoiceID) {
		g.metrics.RecordOwnershipDenial(DenyInvalidID)
		return nil, model.NewInvalidInvoiceIDError(invoiceID)
	}

	if !policy.LeakExistence {
		inv, err := g.finder.FindByIDAndOwner(ctx, invoiceID, userID)
		if err != nil {
			return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
		}
		if inv == nil {
			g.metrics.RecordOwnershipDenial(DenyNotFound)
			return nil, model.NewInvoiceNotFoundError(invoiceID)
		}
		return inv, nil
	}

	inv, err := g.finder.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
	}
	if inv == nil {
		g.metrics.RecordOwnershipDenial(DenyNotFound)
		return nil, model.NewInvoiceNotFoundError(invoiceID)
	}
	if !inv.IsOwnedBy(userID) {
		g.metrics.RecordOwnershipDenial(DenyForbidden)
		slog.Warn("invoice access denied",
			slog.String("user_id", userID),
			slog.String("invoice_id", invoiceID),
		)
		return nil, model.NewForbiddenError()
	}
	return inv, nil
}
