package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/clearbill/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // ページとAPI全般のレート（req/sec）
	GeneralBurst    int           // ページとAPI全般のバーストサイズ
	ExportRate      rate.Limit    // PDFを生成するルートのレート（req/sec）
	ExportBurst     int           // PDFを生成するルートのバーストサイズ
	CleanupInterval time.Duration // 使われていないリミッターの回収間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 全般 120 req/min/user、PDF生成 10 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限と同じにする。
func NewRateLimiterConfig(generalPerMin, exportPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		ExportRate:      rate.Limit(float64(exportPerMin) / 60.0),
		ExportBurst:     exportPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterSet はユーザーIDごとのrate.Limiterと最終アクセス時刻を保持する。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	seen     map[string]time.Time
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		seen:     make(map[string]time.Time),
	}
}

// allow はユーザーのトークンを1つ消費できればtrueを返す。
func (s *limiterSet) allow(userID string, now time.Time) bool {
	s.mu.Lock()
	l, ok := s.limiters[userID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[userID] = l
	}
	s.seen[userID] = now
	s.mu.Unlock()

	return l.AllowN(now, 1)
}

// sweep はttlより長く使われていないリミッターを削除する。
func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, last := range s.seen {
		if now.Sub(last) > ttl {
			delete(s.limiters, userID)
			delete(s.seen, userID)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// middleware はセッションのユーザーIDごとに制限するミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func (s *limiterSet) middleware(now func() time.Time) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !s.allow(userID, now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", s.name),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.limit)))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// 全般の制限と、PDFを生成するルート専用の制限を独立に持つ。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	export  *limiterSet
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、リミッターの回収を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		export:  newLimiterSet("export", config.ExportRate, config.ExportBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

// Stop は回収ゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はページとAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware(rl.clock)
}

// ExportMiddleware はPDFを生成するルート専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) ExportMiddleware() func(next http.Handler) http.Handler {
	return rl.export.middleware(rl.clock)
}

// GeneralLimiterCount は保持している全般リミッターの数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// ExportLimiterCount は保持しているPDF生成リミッターの数を返す。
func (rl *RateLimiter) ExportLimiterCount() int {
	return rl.export.len()
}

func (rl *RateLimiter) clock() time.Time {
	return rl.now()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はCleanupIntervalの2倍より長く使われていないリミッターを削除する。
func (rl *RateLimiter) cleanup() {
	now := rl.now()
	ttl := rl.config.CleanupInterval * 2
	rl.general.sweep(now, ttl)
	rl.export.sweep(now, ttl)
}

// retryAfterSeconds はトークンが1つ補充されるまでの秒数を切り上げて返す。
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	// 10/60のような割り切れないレートで7秒に丸められないよう誤差を許容する
	sec := int(math.Ceil(1.0/float64(limit) - 1e-9))
	if sec < 1 {
		sec = 1
	}
	return sec
}
