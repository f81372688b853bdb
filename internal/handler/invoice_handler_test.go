package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/clearbill/internal/invoice"
	"github.com/hitoshi/clearbill/internal/model"
)

// --- モック定義 ---

// mockInvoiceService はInvoiceServiceInterfaceとInvoicePageServiceのモック実装。
type mockInvoiceService struct {
	getFn       func(ctx context.Context, userID, invoiceID string) (*model.Invoice, error)
	getScopedFn func(ctx context.Context, userID, invoiceID string) (*model.Invoice, error)
	listFn      func(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error)
	createFn    func(ctx context.Context, userID string, in invoice.CreateInput) (*model.Invoice, error)
}

func (m *mockInvoiceService) Get(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, invoiceID)
	}
	return nil, model.NewInvoiceNotFoundError(invoiceID)
}

func (m *mockInvoiceService) GetScoped(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
	if m.getScopedFn != nil {
		return m.getScopedFn(ctx, userID, invoiceID)
	}
	return nil, model.NewInvoiceNotFoundError(invoiceID)
}

func (m *mockInvoiceService) List(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, opts)
	}
	return nil, nil
}

func (m *mockInvoiceService) Create(ctx context.Context, userID string, in invoice.CreateInput) (*model.Invoice, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return nil, nil
}

const (
	testInvoiceID = "0b9d6a3e-4c1f-4d8e-9a57-3f2e1c6b8d40"
	testOwnerID   = "user-owner"
)

// newTestInvoice はテスト用の請求書を生成する。
func newTestInvoice(id, userID string) *model.Invoice {
	return &model.Invoice{
		ID:            id,
		UserID:        userID,
		InvoiceNumber: "INV-001",
		ClientName:    "Acme Lanka",
		IssueDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Items: []model.LineItem{
			{Description: "Design", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(12500)},
		},
		Total:  decimal.NewFromInt(25000),
		Status: model.InvoiceStatusSent,
	}
}

// --- GetInvoice ---

func TestInvoiceHandler_GetInvoice(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "所有者は取得できる", wantStatus: http.StatusOK},
		{name: "他人の請求書は403", err: model.NewForbiddenError(), wantStatus: http.StatusForbidden, wantCode: model.ErrCodeForbidden},
		{name: "存在しない請求書は404", err: model.NewInvoiceNotFoundError(testInvoiceID), wantStatus: http.StatusNotFound, wantCode: model.ErrCodeInvoiceNotFound},
		{name: "不正なIDは400", err: model.NewInvalidInvoiceIDError("abc"), wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeInvalidInvoiceID},
		{name: "内部エラーは500", err: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUserID, gotID string
			svc := &mockInvoiceService{
				getFn: func(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
					gotUserID, gotID = userID, invoiceID
					if tt.err != nil {
						return nil, tt.err
					}
					return newTestInvoice(invoiceID, userID), nil
				},
			}
			h := NewInvoiceHandler(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/invoices/"+testInvoiceID, nil)
			req = withUserID(req, testOwnerID)
			req = withChiURLParams(req, "id", testInvoiceID)
			w := httptest.NewRecorder()

			h.GetInvoice(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUserID != testOwnerID || gotID != testInvoiceID {
				t.Errorf("service called with (%q, %q), want (%q, %q)", gotUserID, gotID, testOwnerID, testInvoiceID)
			}
			if tt.wantCode != "" {
				body := parseAPIErrorResponse(t, w)
				if body["code"] != tt.wantCode {
					t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
				}
				return
			}

			var got model.Invoice
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.ID != testInvoiceID {
				t.Errorf("id = %q, want %q", got.ID, testInvoiceID)
			}
			if !got.Total.Equal(decimal.NewFromInt(25000)) {
				t.Errorf("total = %s, want 25000", got.Total)
			}
		})
	}
}

func TestInvoiceHandler_GetInvoice_NoUserID_ReturnsUnauthorized(t *testing.T) {
	called := false
	svc := &mockInvoiceService{
		getFn: func(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
			called = true
			return nil, nil
		},
	}
	h := NewInvoiceHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/"+testInvoiceID, nil)
	req = withChiURLParams(req, "id", testInvoiceID)
	w := httptest.NewRecorder()

	h.GetInvoice(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if called {
		t.Error("service should not be called without a session")
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUnauthorized)
	}
}

// --- ListInvoices ---

func TestInvoiceHandler_ListInvoices(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantAll    bool
	}{
		{name: "自分の請求書一覧", query: "", wantStatus: http.StatusOK, wantAll: false},
		{name: "all=trueは全件取得を指定する", query: "?all=true", wantStatus: http.StatusOK, wantAll: true},
		{name: "all=falseは自分の一覧", query: "?all=false", wantStatus: http.StatusOK, wantAll: false},
		{name: "allが真偽値でなければ400", query: "?all=maybe", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOpts invoice.ListOptions
			svc := &mockInvoiceService{
				listFn: func(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error) {
					gotOpts = opts
					return []*model.Invoice{newTestInvoice(testInvoiceID, userID)}, nil
				},
			}
			h := NewInvoiceHandler(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/invoices"+tt.query, nil)
			req = withUserID(req, testOwnerID)
			w := httptest.NewRecorder()

			h.ListInvoices(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if gotOpts.All != tt.wantAll {
				t.Errorf("opts.All = %v, want %v", gotOpts.All, tt.wantAll)
			}

			var got invoiceListResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(got.Invoices) != 1 {
				t.Errorf("len(invoices) = %d, want 1", len(got.Invoices))
			}
		})
	}
}

func TestInvoiceHandler_ListInvoices_EmptyReturnsArray(t *testing.T) {
	h := NewInvoiceHandler(&mockInvoiceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req = withUserID(req, testOwnerID)
	w := httptest.NewRecorder()

	h.ListInvoices(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"invoices":[]`) {
		t.Errorf("body = %s, want empty invoices array", w.Body.String())
	}
}

func TestInvoiceHandler_ListInvoices_ServiceError(t *testing.T) {
	svc := &mockInvoiceService{
		listFn: func(ctx context.Context, userID string, opts invoice.ListOptions) ([]*model.Invoice, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewInvoiceHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req = withUserID(req, testOwnerID)
	w := httptest.NewRecorder()

	h.ListInvoices(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- CreateInvoice ---

func TestInvoiceHandler_CreateInvoice_Success(t *testing.T) {
	var gotUserID string
	var gotInput invoice.CreateInput
	svc := &mockInvoiceService{
		createFn: func(ctx context.Context, userID string, in invoice.CreateInput) (*model.Invoice, error) {
			gotUserID, gotInput = userID, in
			inv := newTestInvoice(testInvoiceID, userID)
			inv.InvoiceNumber = in.InvoiceNumber
			return inv, nil
		},
	}
	h := NewInvoiceHandler(svc)

	body := `{
		"userId": "user-attacker",
		"invoiceNumber": "INV-042",
		"clientName": "Acme Lanka",
		"date": "2026-03-01",
		"dueDate": "2026-03-31",
		"items": [{"description": "Design", "quantity": "2", "unitPrice": "12500"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, testOwnerID)
	w := httptest.NewRecorder()

	h.CreateInvoice(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotUserID != testOwnerID {
		t.Errorf("owner = %q, want %q", gotUserID, testOwnerID)
	}
	if gotInput.InvoiceNumber != "INV-042" {
		t.Errorf("invoiceNumber = %q, want %q", gotInput.InvoiceNumber, "INV-042")
	}

	var got model.Invoice
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.UserID != testOwnerID {
		t.Errorf("userId = %q, want %q", got.UserID, testOwnerID)
	}
}

func TestInvoiceHandler_CreateInvoice_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{
			name:       "JSONが不正なら400",
			body:       `{"invoiceNumber":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
		{
			name:       "検証エラーは400",
			body:       `{}`,
			err:        model.NewInvalidRequestError("clientName is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
		{
			name:       "内部ロゴURLは400",
			body:       `{"logoUrl":"http://169.254.169.254/"}`,
			err:        model.NewSSRFBlockedError(),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeSSRFBlocked,
		},
		{
			name:       "保存失敗はerrorフィールドで500",
			body:       `{}`,
			err:        errors.New("insert failed"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "insert failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockInvoiceService{
				createFn: func(ctx context.Context, userID string, in invoice.CreateInput) (*model.Invoice, error) {
					called = true
					return nil, tt.err
				},
			}
			h := NewInvoiceHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(tt.body))
			req = withUserID(req, testOwnerID)
			w := httptest.NewRecorder()

			h.CreateInvoice(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.err == nil && called {
				t.Error("service should not be called for an unparsable body")
			}

			body := parseAPIErrorResponse(t, w)
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestInvoiceHandler_CreateInvoice_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewInvoiceHandler(&mockInvoiceService{})

	req := httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.CreateInvoice(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleServiceError_ErrorResponseContainsAllFields(t *testing.T) {
	w := httptest.NewRecorder()

	handleServiceError(w, model.NewForbiddenError())

	body := parseAPIErrorResponse(t, w)
	for _, key := range []string{"code", "message", "category", "action"} {
		if body[key] == "" {
			t.Errorf("error response missing %q: %v", key, body)
		}
	}
}
