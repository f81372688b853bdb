package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clearbill/internal/export"
	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/model"
	"github.com/hitoshi/clearbill/internal/share"
)

// ScopedInvoiceFinder は所有者で絞り込んで請求書を取得する。
type ScopedInvoiceFinder interface {
	GetScoped(ctx context.Context, userID, invoiceID string) (*model.Invoice, error)
}

// ShareActionRunner は共有アクションの実装。
type ShareActionRunner interface {
	Download(ctx context.Context, inv *model.Invoice) (*share.Outcome, error)
	Copy(ctx context.Context, clip share.Clipboard, inv *model.Invoice) (*share.Outcome, error)
	Run(action share.Action, inv *model.Invoice, clip share.Clipboard) func(ctx context.Context) (*share.Outcome, error)
}

// ShareHandler は共有アクションとPDFダウンロードのHTTPハンドラー。
type ShareHandler struct {
	invoices      ScopedInvoiceFinder
	views         *share.ViewStore
	actions       ShareActionRunner
	redirectDelay time.Duration
}

// NewShareHandler はShareHandlerを生成する。
func NewShareHandler(invoices ScopedInvoiceFinder, views *share.ViewStore, actions ShareActionRunner, redirectDelay time.Duration) *ShareHandler {
	return &ShareHandler{
		invoices:      invoices,
		views:         views,
		actions:       actions,
		redirectDelay: redirectDelay,
	}
}

// shareStateResponse は共有ビューの状態レスポンス。
type shareStateResponse struct {
	ViewID          string       `json:"viewId"`
	Phase           share.Phase  `json:"phase"`
	Action          share.Action `json:"action,omitempty"`
	Message         string       `json:"message,omitempty"`
	ActionsDisabled bool         `json:"actionsDisabled"`
}

// copyLinkResponse はcopyアクションのレスポンス。
// ブラウザがクリップボードへの書き込み結果を報告するまでloading(copy)のままになる。
type copyLinkResponse struct {
	Link      string             `json:"link"`
	ResultURL string             `json:"resultUrl"`
	State     shareStateResponse `json:"state"`
}

// copyResultRequest はクリップボード書き込み結果の報告。
type copyResultRequest struct {
	OK bool `json:"ok"`
}

// ViewState は共有ビューの現在の状態を返す。
// GET /invoices/{id}/share/views/{viewID}
func (h *ShareHandler) ViewState(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	view, err := h.views.Get(chi.URLParam(r, "viewID"), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toShareStateResponse(view))
}

// InvokeAction は共有ビューでアクションを実行する。
// POST /invoices/{id}/share/views/{viewID}/{action}
func (h *ShareHandler) InvokeAction(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	action, err := share.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	inv, err := h.invoices.GetScoped(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.views.Get(chi.URLParam(r, "viewID"), inv.ID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if action == share.ActionCopy {
		h.beginCopy(w, r, view, inv)
		return
	}

	out, err := view.Coordinator.Invoke(r.Context(), action, h.actions.Run(action, inv, nil))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Refresh", h.refreshHeader())

	switch action {
	case share.ActionDownload:
		writePDF(w, out.Download)
	case share.ActionWhatsApp:
		http.Redirect(w, r, out.RedirectURL, http.StatusSeeOther)
	}
}

// beginCopy はcopyをloadingにして共有リンクを返す。
// 完了するのはブラウザがCopyResultで書き込み成功を報告したとき。
func (h *ShareHandler) beginCopy(w http.ResponseWriter, r *http.Request, view *share.View, inv *model.Invoice) {
	if err := view.Coordinator.Begin(share.ActionCopy); err != nil {
		handleServiceError(w, err)
		return
	}

	clip := &share.ResponseClipboard{}
	out, err := h.actions.Copy(r.Context(), clip, inv)
	if err != nil {
		_, err = view.Coordinator.Settle(share.ActionCopy, nil, err)
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, copyLinkResponse{
		Link:      out.Link,
		ResultURL: r.URL.Path + "/result",
		State:     toShareStateResponse(view),
	})
}

// CopyResult はブラウザからクリップボード書き込みの結果を受け取る。
// 成功ならcopyを完了し、失敗ならidleに戻して再試行できるようにする。
// POST /invoices/{id}/share/views/{viewID}/copy/result
func (h *ShareHandler) CopyResult(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	var req copyResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, invalidJSONError())
		return
	}

	view, err := h.views.Get(chi.URLParam(r, "viewID"), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var result error
	if !req.OK {
		result = model.NewClipboardFailedError()
	}
	if _, err := view.Coordinator.Settle(share.ActionCopy, nil, result); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Refresh", h.refreshHeader())
	writeJSON(w, http.StatusOK, toShareStateResponse(view))
}

// DownloadPDF は請求書のPDFを直接ダウンロードする。
// GET /invoices/{id}/pdf
func (h *ShareHandler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	inv, err := h.invoices.GetScoped(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out, err := h.actions.Download(r.Context(), inv)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writePDF(w, out.Download)
}

// refreshHeader は完了後にダッシュボードへ戻すRefreshヘッダーの値を返す。
func (h *ShareHandler) refreshHeader() string {
	return fmt.Sprintf("%d; url=%s", int(h.redirectDelay.Round(time.Second)/time.Second), dashboardPath)
}

func toShareStateResponse(view *share.View) shareStateResponse {
	state := view.Coordinator.State()
	return shareStateResponse{
		ViewID:          view.ID,
		Phase:           state.Phase,
		Action:          state.Action,
		Message:         state.Message,
		ActionsDisabled: state.ActionsDisabled(),
	}
}

// writePDF はPDFを添付ファイルとして書き込む。
func writePDF(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.PDF)))
	w.WriteHeader(http.StatusOK)
	w.Write(result.PDF)
}
