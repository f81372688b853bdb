package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/clearbill/internal/model"
)

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// sessionFixture は有効・期限切れ・DBエラーのセッションを返すリポジトリ。
func sessionFixture() *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			switch id {
			case "valid-session":
				return &model.Session{ID: id, UserID: "owner-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			case "stale-session":
				return &model.Session{ID: id, UserID: "owner-1", ExpiresAt: time.Now().Add(-time.Minute)}, nil
			case "db-error":
				return nil, errors.New("connection refused")
			default:
				return nil, nil
			}
		},
	}
}

func TestSessionMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cookie     *http.Cookie
		wantStatus int
		wantUserID string
	}{
		{name: "有効なセッションはユーザーIDを注入する", cookie: &http.Cookie{Name: sessionCookieName, Value: "valid-session"}, wantStatus: http.StatusOK, wantUserID: "owner-1"},
		{name: "Cookieなしは401", cookie: nil, wantStatus: http.StatusUnauthorized},
		{name: "空のCookieは401", cookie: &http.Cookie{Name: sessionCookieName, Value: ""}, wantStatus: http.StatusUnauthorized},
		{name: "存在しないセッションは401", cookie: &http.Cookie{Name: sessionCookieName, Value: "unknown"}, wantStatus: http.StatusUnauthorized},
		{name: "期限切れのセッションは401", cookie: &http.Cookie{Name: sessionCookieName, Value: "stale-session"}, wantStatus: http.StatusUnauthorized},
		{name: "DBエラーは401", cookie: &http.Cookie{Name: sessionCookieName, Value: "db-error"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUserID string
			called := false
			h := NewSessionMiddleware(sessionFixture())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotUserID, _ = UserIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if gotUserID != tt.wantUserID {
				t.Errorf("userID = %q, want %q", gotUserID, tt.wantUserID)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != model.ErrCodeUnauthorized {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
				}
			}
		})
	}
}

func TestPageSessionMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		target       string
		cookie       string
		wantStatus   int
		wantLocation string
	}{
		{name: "認証済みは通過", method: http.MethodGet, target: "/dashboard", cookie: "valid-session", wantStatus: http.StatusOK},
		{name: "未認証GETは戻り先付きでサインインへ", method: http.MethodGet, target: "/invoices/abc/share?x=1", wantStatus: http.StatusSeeOther, wantLocation: "/auth/signin?next=%2Finvoices%2Fabc%2Fshare%3Fx%3D1"},
		{name: "期限切れも戻り先付きでサインインへ", method: http.MethodGet, target: "/dashboard", cookie: "stale-session", wantStatus: http.StatusSeeOther, wantLocation: "/auth/signin?next=%2Fdashboard"},
		{name: "未認証POSTは戻り先なし", method: http.MethodPost, target: "/invoices/abc/share/views/v/copy", wantStatus: http.StatusSeeOther, wantLocation: SignInPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPageSessionMiddleware(sessionFixture())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if loc := w.Header().Get("Location"); loc != tt.wantLocation {
				t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
			}
		})
	}
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/dashboard", "/dashboard"},
		{"/invoices/abc/share?x=1", "/invoices/abc/share?x=1"},
		{"", ""},
		{"dashboard", ""},
		{"//evil.example.com/", ""},
		{"/\\evil.example.com", ""},
		{"https://evil.example.com/dashboard", ""},
		{"/auth/signin", ""},
		{"/auth", ""},
		{"/authors", "/authors"},
		{"/dashboard\r\nSet-Cookie: x=1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeReturnPath(tt.in); got != tt.want {
				t.Errorf("SafeReturnPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); !errors.Is(err, ErrNoUserID) {
		t.Errorf("UserIDFromContext(empty) error = %v, want %v", err, ErrNoUserID)
	}

	got, err := UserIDFromContext(ContextWithUserID(context.Background(), "owner-1"))
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if got != "owner-1" {
		t.Errorf("UserIDFromContext() = %q, want %q", got, "owner-1")
	}
}
