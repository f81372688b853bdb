package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		origin        string
		preflight     bool
		wantStatus    int
		wantAllowed   string
		wantNextCalls int
	}{
		{name: "許可オリジンのGET", method: http.MethodGet, origin: "https://app.clearbill.example", wantStatus: http.StatusOK, wantAllowed: "https://app.clearbill.example", wantNextCalls: 1},
		{name: "許可外オリジンにはヘッダーを返さない", method: http.MethodGet, origin: "https://evil.example", wantStatus: http.StatusOK, wantNextCalls: 1},
		{name: "Originなしは同一オリジン扱い", method: http.MethodPost, wantStatus: http.StatusOK, wantNextCalls: 1},
		{name: "プリフライトは204", method: http.MethodOptions, origin: "https://app.clearbill.example", preflight: true, wantStatus: http.StatusNoContent, wantAllowed: "https://app.clearbill.example"},
		{name: "プリフライトでないOPTIONSは通過", method: http.MethodOptions, origin: "https://app.clearbill.example", wantStatus: http.StatusOK, wantAllowed: "https://app.clearbill.example", wantNextCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			h := NewCORSMiddleware("https://app.clearbill.example/", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/invoices", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if calls != tt.wantNextCalls {
				t.Errorf("next called %d times, want %d", calls, tt.wantNextCalls)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if tt.wantAllowed != "" {
				if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-CSRF-Token" {
					t.Errorf("Access-Control-Allow-Headers = %q", got)
				}
				if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
					t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
				}
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
		})
	}
}
