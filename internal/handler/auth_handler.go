// Package handler はClearBillのHTTPハンドラーとページテンプレートを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/clearbill/internal/auth"
	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	oauthNextCookie   = "oauth_next"
	oauthCookieMaxAge = 600
	dashboardPath     = "/dashboard"
)

// サインイン画面に渡す失敗理由
const (
	signInErrorDenied     = "denied"
	signInErrorUnverified = "unverified"
	signInErrorFailed     = "failed"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はGoogleサインインとセッションCookieを扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	cookies cookieWriter
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		cookies: newCookieWriter(config),
	}
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Login はstateと戻り先をCookieに保存してGoogleの同意画面へ送る。
// GET /auth/google/login?next=/invoices/{id}/share
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewInternalError())
		return
	}

	h.cookies.set(w, oauthStateCookie, state, oauthCookieMaxAge, false)
	if next := middleware.SafeReturnPath(r.URL.Query().Get(middleware.ReturnToParam)); next != "" {
		h.cookies.set(w, oauthNextCookie, next, oauthCookieMaxAge, false)
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はGoogleからの戻りを検証し、セッションを発行して戻り先へ送る。
// 同意の拒否や未確認メールはサインイン画面に理由を付けて戻す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != query.Get("state") {
		slog.Warn("oauth state mismatch", slog.Bool("has_cookie", err == nil))
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.cookies.set(w, oauthStateCookie, "", -1, false)

	returnTo := dashboardPath
	if c, err := r.Cookie(oauthNextCookie); err == nil {
		if p := middleware.SafeReturnPath(c.Value); p != "" {
			returnTo = p
		}
		h.cookies.set(w, oauthNextCookie, "", -1, false)
	}

	if reason := query.Get("error"); reason != "" {
		slog.Info("oauth consent not granted", slog.String("reason", reason))
		h.redirectToSignIn(w, r, signInErrorDenied)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	switch {
	case errors.Is(err, auth.ErrEmailNotVerified):
		slog.Warn("sign-in rejected: email not verified")
		h.redirectToSignIn(w, r, signInErrorUnverified)
		return
	case err != nil:
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectToSignIn(w, r, signInErrorFailed)
		return
	}

	h.cookies.set(w, sessionCookieName, session.ID, h.config.SessionMaxAge, true)
	http.Redirect(w, r, strings.TrimRight(h.config.BaseURL, "/")+returnTo, http.StatusSeeOther)
}

// Logout はセッションを削除してCookieを消し、サインイン画面へ戻す。
// 削除に失敗してもCookieは消す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.cookies.clearSession(w)
	http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
}

// Me はサインイン中のユーザーを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, auth.ErrSessionNotFound) {
			slog.Error("failed to get current user", slog.String("error", err.Error()))
		}
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}

func (h *AuthHandler) redirectToSignIn(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, middleware.SignInPath+"?error="+url.QueryEscape(reason), http.StatusSeeOther)
}

// cookieWriter はHttpOnlyのCookieを同じ属性で書き込む。
type cookieWriter struct {
	domain string
	secure bool
}

func newCookieWriter(config AuthHandlerConfig) cookieWriter {
	return cookieWriter{domain: config.CookieDomain, secure: config.CookieSecure}
}

// set はCookieを書き込む。maxAgeが負なら削除する。
// セッションCookieだけCookieDomainを付ける。
func (c cookieWriter) set(w http.ResponseWriter, name, value string, maxAge int, session bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if session {
		cookie.Domain = c.domain
	}
	http.SetCookie(w, cookie)
}

// clearSession はセッションCookieを削除する。
func (c cookieWriter) clearSession(w http.ResponseWriter) {
	c.set(w, sessionCookieName, "", -1, true)
}

// generateState はOAuthのstateに使うランダム値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
