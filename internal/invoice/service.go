// Package invoice は請求書の作成・取得と、所有権に基づくアクセス制御を提供する。
package invoice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/clearbill/internal/metrics"
	"github.com/hitoshi/clearbill/internal/model"
	"github.com/hitoshi/clearbill/internal/repository"
	"github.com/hitoshi/clearbill/internal/security"
)

// LineItemInput は明細行の入力。
type LineItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// CreateInput は請求書作成の入力。
// 所有者を表すフィールドは持たない。所有者は常にセッションのユーザーになる。
type CreateInput struct {
	InvoiceNumber string           `json:"invoiceNumber" validate:"required,max=64"`
	ClientName    string           `json:"clientName" validate:"required,max=255"`
	ClientEmail   string           `json:"clientEmail" validate:"omitempty,email,max=255"`
	Date          string           `json:"date" validate:"required"`
	DueDate       string           `json:"dueDate" validate:"required"`
	Items         []LineItemInput  `json:"items" validate:"max=200,dive"`
	Total         *decimal.Decimal `json:"total"`
	Status        string           `json:"status" validate:"omitempty,invoice_status"`
	LogoURL       string           `json:"logoUrl" validate:"omitempty,max=2048"`
	Notes         string           `json:"notes" validate:"max=2000"`
}

// ListOptions は一覧取得のオプション。
type ListOptions struct {
	// All は全ユーザーの請求書を返す管理者向けオーバーライド。
	All bool
}

var statusPattern = regexp.MustCompile(`^[a-z_]{1,32}$`)

// Service は請求書のサービス層。
type Service struct {
	repo      repository.InvoiceRepository
	guard     *Guard
	ssrfGuard security.SSRFGuardService
	sanitizer security.TextSanitizerService
	validate  *validator.Validate
	metrics   metrics.MetricsCollector
	admins    map[string]struct{}
	now       func() time.Time
}

// mustRegisterValidation はカスタム検証タグを登録する。登録できなければpanicする。
func mustRegisterValidation(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("invoice: register %s validation: %v", tag, err))
	}
}

// ServiceConfig はServiceの設定。
type ServiceConfig struct {
	AdminUserIDs []string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.InvoiceRepository,
	ssrfGuard security.SSRFGuardService,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	cfg ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	mustRegisterValidation(v, "invoice_status", func(fl validator.FieldLevel) bool {
		return statusPattern.MatchString(fl.Field().String())
	})

	admins := make(map[string]struct{}, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = struct{}{}
	}

	return &Service{
		repo:      repo,
		guard:     NewGuard(repo, collector),
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		validate:  v,
		metrics:   collector,
		admins:    admins,
		now:       time.Now,
	}
}

// Guard はサービスが使う所有権ガードを返す。
func (s *Service) Guard() *Guard {
	return s.guard
}

// Get はJSON API向けに請求書を取得する。他ユーザーの請求書はForbiddenになる。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Invoice, error) {
	return s.guard.Resolve(ctx, userID, id, FetchThenCompare)
}

// GetScoped は画面・エクスポート向けに請求書を取得する。他ユーザーの請求書はNotFoundになる。
func (s *Service) GetScoped(ctx context.Context, userID, id string) (*model.Invoice, error) {
	return s.guard.Resolve(ctx, userID, id, Scoped)
}

// IsAdmin は指定ユーザーが管理者として設定されているかを返す。
func (s *Service) IsAdmin(userID string) bool {
	_, ok := s.admins[userID]
	return ok
}

// List は請求書一覧を作成日時の降順で返す。
// 既定では呼び出しユーザーの請求書のみ。opts.Allは管理者のみ許可される。
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]*model.Invoice, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	if opts.All {
		if !s.IsAdmin(userID) {
			s.metrics.RecordOwnershipDenial(DenyForbidden)
			return nil, model.NewForbiddenError()
		}
		invoices, err := s.repo.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("請求書一覧の取得に失敗しました: %w", err)
		}
		return invoices, nil
	}

	invoices, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧の取得に失敗しました: %w", err)
	}
	return invoices, nil
}

// Create はセッションのユーザーを所有者として請求書を作成する。
// 明細行がある場合、合計金額は明細から計算し、入力のtotalは無視する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Invoice, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	issueDate, err := parseDate(in.Date)
	if err != nil {
		return nil, model.NewInvalidRequestError("date: " + err.Error())
	}
	dueDate, err := parseDate(in.DueDate)
	if err != nil {
		return nil, model.NewInvalidRequestError("dueDate: " + err.Error())
	}

	items := make([]model.LineItem, 0, len(in.Items))
	for i, li := range in.Items {
		if !li.Quantity.IsPositive() {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("items[%d].quantity must be greater than 0", i))
		}
		if li.UnitPrice.IsNegative() {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("items[%d].unitPrice must not be negative", i))
		}
		items = append(items, model.LineItem{
			Description: s.sanitizer.Clean(li.Description),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
		})
	}

	if in.LogoURL != "" {
		if err := s.ssrfGuard.ValidateURL(in.LogoURL); err != nil {
			if errors.Is(err, security.ErrBlockedURL) {
				return nil, model.NewSSRFBlockedError()
			}
			return nil, model.NewInvalidURLError("logoUrl must be an absolute http(s) URL")
		}
	}

	status := model.InvoiceStatus(in.Status)
	if status == "" {
		status = model.InvoiceStatusDraft
	}

	now := s.now()
	inv := &model.Invoice{
		ID:            uuid.New().String(),
		UserID:        userID,
		InvoiceNumber: s.sanitizer.Clean(in.InvoiceNumber),
		ClientName:    s.sanitizer.Clean(in.ClientName),
		ClientEmail:   strings.TrimSpace(in.ClientEmail),
		IssueDate:     issueDate,
		DueDate:       dueDate,
		Items:         items,
		Status:        status,
		LogoURL:       in.LogoURL,
		Notes:         s.sanitizer.Clean(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch {
	case len(items) > 0:
		inv.Total = inv.ItemsTotal().Round(2)
	case in.Total != nil:
		if in.Total.IsNegative() {
			return nil, model.NewInvalidRequestError("total must not be negative")
		}
		inv.Total = in.Total.Round(2)
	default:
		inv.Total = decimal.Zero
	}

	if inv.InvoiceNumber == "" || inv.ClientName == "" {
		return nil, model.NewInvalidRequestError("invoiceNumber and clientName must contain text")
	}

	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("請求書の作成に失敗しました: %w", err)
	}

	s.metrics.RecordInvoiceCreated()
	return inv, nil
}

// parseDate はYYYY-MM-DDまたはRFC3339形式の日付を解析する。
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t.UTC(), nil
}

// validationError はvalidatorのエラーを利用者向けのAPIErrorに変換する。
func validationError(err error) *model.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewInvalidRequestError(err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return model.NewInvalidRequestError(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "max":
		return field + " must be at most " + fe.Param()
	case "invoice_status":
		return field + " must be lowercase letters or underscores"
	default:
		return field + " is invalid"
	}
}
