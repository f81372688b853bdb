package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clearbill/internal/invoice"
	"github.com/hitoshi/clearbill/internal/middleware"
	"github.com/hitoshi/clearbill/internal/model"
)

// InvoiceServiceInterface は請求書APIハンドラーが必要とするサービスインターフェース。
type InvoiceServiceInterface interface {
	// Get は所有者確認付きで請求書を取得する。
	Get(ctx context.Context, userID, invoiceID string) (*model.Invoice, error)
	// List は請求書一覧を返す。
	List(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error)
	// Create はセッションのユーザーを所有者として請求書を作成する。
	Create(ctx context.Context, userID string, in invoice.CreateInput) (*model.Invoice, error)
}

// InvoiceHandler は請求書APIのHTTPハンドラー。
type InvoiceHandler struct {
	service InvoiceServiceInterface
}

// NewInvoiceHandler はInvoiceHandlerを生成する。
func NewInvoiceHandler(service InvoiceServiceInterface) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// invoiceListResponse は請求書一覧のAPIレスポンス。
type invoiceListResponse struct {
	Invoices []*model.Invoice `json:"invoices"`
}

// createErrorResponse は請求書作成の内部エラーレスポンス。
type createErrorResponse struct {
	Error string `json:"error"`
}

// GetInvoice は請求書を取得する。
// GET /api/invoices/{id}
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	inv, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// ListInvoices は請求書一覧を取得する。
// GET /api/invoices?all=true
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	var opts invoice.ListOptions
	if v := r.URL.Query().Get("all"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteAPIError(w, model.NewInvalidRequestError("all must be true or false"))
			return
		}
		opts.All = all
	}

	invoices, err := h.service.List(r.Context(), userID, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if invoices == nil {
		invoices = []*model.Invoice{}
	}

	writeJSON(w, http.StatusOK, invoiceListResponse{Invoices: invoices})
}

// CreateInvoice は請求書を作成する。
// POST /api/invoices
// ボディにuserIdが含まれていても無視し、セッションのユーザーを所有者とする。
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	var in invoice.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteAPIError(w, invalidJSONError())
		return
	}

	inv, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		slog.Error("failed to create invoice",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, createErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}
