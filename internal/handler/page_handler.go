package handler

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clearbill/internal/invoice"
	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/model"
	"github.com/hitoshi/clearbill/internal/share"
)

//go:embed templates/*.html
var templateFS embed.FS

const themeCookieName = "theme"

var templateFuncs = template.FuncMap{
	"lkr":         share.FormatLKR,
	"date":        func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"badge":       StatusBadgeClass,
	"actionLabel": actionLabel,
}

var pageTemplates = template.Must(template.New("pages").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html"))

// InvoicePageService はページハンドラーが必要とするサービスインターフェース。
type InvoicePageService interface {
	// GetScoped は所有者で絞り込んだ検索で請求書を取得する。
	GetScoped(ctx context.Context, userID, invoiceID string) (*model.Invoice, error)
	// List は請求書一覧を返す。
	List(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error)
}

// PageHandler はHTMLページのハンドラー。
type PageHandler struct {
	service       InvoicePageService
	views         *share.ViewStore
	redirectDelay time.Duration
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service InvoicePageService, views *share.ViewStore, redirectDelay time.Duration) *PageHandler {
	return &PageHandler{
		service:       service,
		views:         views,
		redirectDelay: redirectDelay,
	}
}

// pageData はテンプレートに渡す値。
type pageData struct {
	Title          string
	SignedIn       bool
	Dark           bool
	Invoice        *model.Invoice
	Invoices       []*model.Invoice
	CSRFToken      string
	ActionBase     string
	Actions        []share.Action
	Disabled       bool
	RedirectMillis int64
	Notice         string
	LoginURL       string
}

// StatusBadgeClass はステータスバッジの配色クラスを返す。
func StatusBadgeClass(status model.InvoiceStatus) string {
	switch status {
	case model.InvoiceStatusPaid:
		return "bg-green-100 text-green-800"
	case model.InvoiceStatusSent:
		return "bg-blue-100 text-blue-800"
	case model.InvoiceStatusOverdue:
		return "bg-red-100 text-red-800"
	default:
		return "bg-gray-100 text-gray-800"
	}
}

func actionLabel(a share.Action) string {
	switch a {
	case share.ActionDownload:
		return "Download PDF"
	case share.ActionWhatsApp:
		return "Share on WhatsApp"
	case share.ActionCopy:
		return "Copy link"
	default:
		return string(a)
	}
}

// Dashboard はログインユーザーの請求書一覧を表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return
	}

	invoices, err := h.service.List(r.Context(), userID, invoice.ListOptions{})
	if err != nil {
		h.renderFailure(w, r, err)
		return
	}

	h.render(w, http.StatusOK, "dashboard.html", pageData{
		Title:    "Invoices",
		SignedIn: true,
		Dark:     isDark(r),
		Invoices: invoices,
	})
}

// Preview は請求書のプレビューを表示する。
// GET /invoices/{id}/preview
func (h *PageHandler) Preview(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.scopedInvoice(w, r)
	if !ok {
		return
	}

	h.render(w, http.StatusOK, "preview.html", pageData{
		Title:    "Invoice " + inv.InvoiceNumber,
		SignedIn: true,
		Dark:     isDark(r),
		Invoice:  inv,
	})
}

// Share は共有画面を表示する。表示ごとに新しい共有ビューを作成する。
// GET /invoices/{id}/share
func (h *PageHandler) Share(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.scopedInvoice(w, r)
	if !ok {
		return
	}

	view := h.views.Create(inv.ID, inv.UserID)
	state := view.Coordinator.State()

	h.render(w, http.StatusOK, "share.html", pageData{
		Title:          "Share invoice " + inv.InvoiceNumber,
		SignedIn:       true,
		Dark:           isDark(r),
		Invoice:        inv,
		CSRFToken:      middleware.CSRFTokenFromContext(r.Context()),
		ActionBase:     "/invoices/" + inv.ID + "/share/views/" + view.ID,
		Actions:        []share.Action{share.ActionDownload, share.ActionWhatsApp, share.ActionCopy},
		Disabled:       state.ActionsDisabled(),
		RedirectMillis: h.redirectDelay.Milliseconds(),
	})
}

// SignIn はサインイン画面を表示する。
// GET /auth/signin
func (h *PageHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	loginURL := loginPath
	if next := middleware.SafeReturnPath(query.Get(middleware.ReturnToParam)); next != "" {
		loginURL += "?" + middleware.ReturnToParam + "=" + url.QueryEscape(next)
	}

	h.render(w, http.StatusOK, "signin.html", pageData{
		Title:    "Sign in",
		Notice:   signInNotices[query.Get("error")],
		LoginURL: loginURL,
	})
}

const loginPath = "/auth/google/login"

// signInNotices はサインイン失敗理由ごとの表示文言。
var signInNotices = map[string]string{
	signInErrorDenied:     "Google sign-in was cancelled.",
	signInErrorUnverified: "Your Google account email is not verified.",
	signInErrorFailed:     "Sign-in failed. Please try again.",
}

// NotFound は404画面を表示する。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusNotFound, "notfound.html", pageData{Title: "Not found"})
}

// TemplateRenderer はプレビューテンプレートで請求書を描画する。
type TemplateRenderer struct{}

// RenderPreview は請求書プレビューのHTML文書を生成する。
// PDFエクスポートの入力として使用する。
func (TemplateRenderer) RenderPreview(inv *model.Invoice) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "preview.html", pageData{
		Title:   "Invoice " + inv.InvoiceNumber,
		Invoice: inv,
	}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// scopedInvoice はURLの請求書を所有者で絞り込んで取得する。
// 取得できない場合はレスポンスを書き込みfalseを返す。
func (h *PageHandler) scopedInvoice(w http.ResponseWriter, r *http.Request) (*model.Invoice, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return nil, false
	}

	inv, err := h.service.GetScoped(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.renderFailure(w, r, err)
		return nil, false
	}
	return inv, true
}

func (h *PageHandler) renderFailure(w http.ResponseWriter, r *http.Request, err error) {
	if isNotFound(err) {
		h.NotFound(w, r)
		return
	}
	slog.Error("failed to load page",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (h *PageHandler) render(w http.ResponseWriter, statusCode int, name string, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(buf.Bytes())
}

// isDark はテーマCookieがダークモードかどうかを返す。
func isDark(r *http.Request) bool {
	c, err := r.Cookie(themeCookieName)
	return err == nil && c.Value == "dark"
}
