// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/clearbill/internal/model"
)

const sessionCookieName = "session_id"

// SignInPath は未認証のページアクセスのリダイレクト先。
const SignInPath = "/auth/signin"

// ReturnToParam はサインイン後の戻り先を渡すクエリパラメータ名。
const ReturnToParam = "next"

// ErrNoUserID はコンテキストにユーザーIDがない場合のエラー。
var ErrNoUserID = errors.New("user ID not found in context")

type contextKey string

var userIDContextKey = contextKey("user_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はAPI用のセッションミドルウェアを返す。
// session_id Cookieのセッションが有効ならユーザーIDをコンテキストに入れ、
// 無効なら401 UNAUTHORIZEDを返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return newSessionMiddleware(sessionFinder, func(w http.ResponseWriter, r *http.Request) {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	})
}

// NewPageSessionMiddleware はページ用のセッションミドルウェアを返す。
// 未認証のGETは元のURLを戻り先に付けてサインイン画面へ303で送る。
func NewPageSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return newSessionMiddleware(sessionFinder, func(w http.ResponseWriter, r *http.Request) {
		returnTo := ""
		if r.Method == http.MethodGet {
			returnTo = r.URL.RequestURI()
		}
		http.Redirect(w, r, SignInURL(returnTo), http.StatusSeeOther)
	})
}

func newSessionMiddleware(sessionFinder SessionFinder, deny http.HandlerFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := lookupSession(r, sessionFinder)
			if !ok {
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// lookupSession はCookieのセッションIDから有効なセッションのユーザーIDを引く。
func lookupSession(r *http.Request, sessionFinder SessionFinder) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		return "", false
	}
	if session == nil || session.Expired(time.Now()) {
		return "", false
	}

	return session.UserID, true
}

// SignInURL はreturnToを戻り先に付けたサインイン画面のURLを返す。
// returnToがサイト内のパスでなければ戻り先は付けない。
func SignInURL(returnTo string) string {
	if SafeReturnPath(returnTo) == "" {
		return SignInPath
	}
	return SignInPath + "?" + ReturnToParam + "=" + url.QueryEscape(returnTo)
}

// SafeReturnPath はpがサイト内の絶対パスならそのまま、そうでなければ空文字を返す。
// 外部ホストへのオープンリダイレクトと認証ルートへのループを防ぐ。
func SafeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if u.Path == "/auth" || strings.HasPrefix(u.Path, "/auth/") {
		return ""
	}
	return p
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserID
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// 外側のLoggingMiddlewareにも同じIDを知らせる。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if h, ok := ctx.Value(userIDHolderContextKey).(*userIDHolder); ok {
		h.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// userIDHolder は内側のミドルウェアで確定したユーザーIDを外側に渡す。
type userIDHolder struct {
	userID string
}

var userIDHolderContextKey = contextKey("user_id_holder")

func withUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderContextKey, h)
}
