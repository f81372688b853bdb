package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, invoice, export, share, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// HTTPStatus はエラーコードに対応するHTTPステータスコードを返す。
// 未知のコードは500として扱う。
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case ErrCodeInvalidInvoiceID, ErrCodeInvalidRequest, ErrCodeInvalidURL,
		ErrCodeSSRFBlocked, ErrCodeUnknownShareAction:
		return http.StatusBadRequest
	case ErrCodeInvoiceNotFound, ErrCodeShareViewNotFound, ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeActionsDisabled, ErrCodeNoPendingAction:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidInvoiceID   = "INVALID_INVOICE_ID"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeInvoiceNotFound    = "INVOICE_NOT_FOUND"
	ErrCodeExportFailed       = "EXPORT_FAILED"
	ErrCodeClipboardFailed    = "CLIPBOARD_FAILED"
	ErrCodeActionsDisabled    = "ACTIONS_DISABLED"
	ErrCodeNoPendingAction    = "NO_PENDING_ACTION"
	ErrCodeUnknownShareAction = "UNKNOWN_SHARE_ACTION"
	ErrCodeShareViewNotFound  = "SHARE_VIEW_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスを拒否するエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You do not have access to this invoice.",
		Category: "auth",
		Action:   "Open an invoice that belongs to your account.",
	}
}

// NewInvalidInvoiceIDError は不正な形式の請求書IDエラーを生成する。
func NewInvalidInvoiceIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInvoiceID,
		Message:  fmt.Sprintf("Invalid invoice ID: %s", id),
		Category: "validation",
		Action:   "Check the invoice ID in the URL.",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Correct the highlighted fields and submit again.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: "validation",
		Action:   "Enter a URL starting with http:// or https://.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the given URL is blocked by the security policy.",
		Category: "validation",
		Action:   "Use a publicly reachable image URL. Local and private network addresses are not allowed.",
	}
}

// NewInvoiceNotFoundError は請求書未検出エラーを生成する。
func NewInvoiceNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvoiceNotFound,
		Message:  fmt.Sprintf("Invoice not found: %s", id),
		Category: "invoice",
		Action:   "Check the invoice ID or return to the dashboard.",
	}
}

// NewExportFailedError はPDFエクスポート失敗エラーを生成する。
// 原因の詳細はログにのみ出力し、利用者には単一のエラーとして返す。
func NewExportFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExportFailed,
		Message:  "Failed to export invoice as PDF.",
		Category: "export",
		Action:   "Wait a moment and try again.",
	}
}

// NewClipboardFailedError はリンクのコピー失敗エラーを生成する。
func NewClipboardFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeClipboardFailed,
		Message:  "Failed to copy the share link.",
		Category: "share",
		Action:   "Try again or copy the link from the address bar.",
	}
}

// NewActionsDisabledError は共有アクションが実行中または完了済みのため受け付けないエラーを生成する。
func NewActionsDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeActionsDisabled,
		Message:  "Another share action is in progress or already completed.",
		Category: "share",
		Action:   "Wait for the current action to finish.",
	}
}

// NewNoPendingActionError は結果を報告されたアクションが実行中でないエラーを生成する。
func NewNoPendingActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingAction,
		Message:  fmt.Sprintf("No %s action is waiting for a result.", action),
		Category: "share",
		Action:   "Reload the share page.",
	}
}

// NewUnknownShareActionError は未定義の共有アクションエラーを生成する。
func NewUnknownShareActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownShareAction,
		Message:  fmt.Sprintf("Unknown share action: %s", action),
		Category: "validation",
		Action:   "Use one of download, whatsapp or copy.",
	}
}

// NewShareViewNotFoundError は共有画面のビューが存在しない（期限切れ・遷移済み）エラーを生成する。
func NewShareViewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeShareViewNotFound,
		Message:  "This share page has expired.",
		Category: "share",
		Action:   "Reload the share page.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests.",
		Category: "system",
		Action:   "Wait for the time in Retry-After and try again.",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "The request could not be verified.",
		Category: "auth",
		Action:   "Reload the page and try again.",
	}
}

// NewInternalError は詳細を伏せた内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
