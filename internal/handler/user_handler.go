package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw は利用者の請求書、セッション、ユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はアカウント操作のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies cookieWriter
}

// NewUserHandler はUserHandlerを生成する。
// 退会後のCookie削除にAuthHandlerと同じCookie属性を使う。
func NewUserHandler(service UserServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: newCookieWriter(config),
	}
}

// Withdraw はセッションのユーザーを退会させ、セッションCookieを消す。
// 失敗した場合はCookieを残す。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("account withdrawn", slog.String("user_id", userID))
	h.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}
