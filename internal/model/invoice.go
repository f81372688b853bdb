package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus は請求書のステータスを表す。
// 既知の値以外も保存可能な開いた文字列型として扱う。
type InvoiceStatus string

const (
	// InvoiceStatusDraft は下書き状態（作成時のデフォルト）。
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusSent は送付済み状態。
	InvoiceStatusSent InvoiceStatus = "sent"
	// InvoiceStatusPaid は支払済み状態。
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusOverdue は支払期限超過状態。
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// LineItem は請求書の明細行を表す。
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Amount は明細行の金額（数量×単価）を返す。
func (li LineItem) Amount() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice)
}

// Invoice は利用者が作成した請求書を表す。
// UserIDは作成時にセッションから設定され、以降変更されない。
type Invoice struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientName    string          `json:"clientName"`
	ClientEmail   string          `json:"clientEmail,omitempty"`
	IssueDate     time.Time       `json:"date"`
	DueDate       time.Time       `json:"dueDate"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        InvoiceStatus   `json:"status"`
	LogoURL       string          `json:"logoUrl,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ItemsTotal は明細行金額の合計を返す。明細がない場合はゼロ。
func (inv *Invoice) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range inv.Items {
		sum = sum.Add(li.Amount())
	}
	return sum
}

// IsOwnedBy は請求書が指定ユーザーの所有であるかを返す。
func (inv *Invoice) IsOwnedBy(userID string) bool {
	return userID != "" && inv.UserID == userID
}
