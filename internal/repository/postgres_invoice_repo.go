package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/clearbill/internal/model"
)

// PostgresInvoiceRepo はPostgreSQLを使用した請求書リポジトリ。
// 明細行はitemsカラム（JSONB）、合計金額はtotalカラム（NUMERIC）に保存する。
type PostgresInvoiceRepo struct {
	db *sql.DB
}

// NewPostgresInvoiceRepo はPostgresInvoiceRepoを生成する。
func NewPostgresInvoiceRepo(db *sql.DB) *PostgresInvoiceRepo {
	return &PostgresInvoiceRepo{db: db}
}

const invoiceColumns = `id, user_id, invoice_number, client_name, client_email, issue_date, due_date,
	items, total, status, logo_url, notes, created_at, updated_at`

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	inv := &model.Invoice{}
	var items []byte
	var status string
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.ClientName, &inv.ClientEmail,
		&inv.IssueDate, &inv.DueDate, &items, &inv.Total, &status,
		&inv.LogoURL, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.Items); err != nil {
			return nil, fmt.Errorf("failed to decode invoice items: %w", err)
		}
	}
	return inv, nil
}

// FindByID は指定IDの請求書を取得する。見つからない場合はnilを返す。
func (r *PostgresInvoiceRepo) FindByID(ctx context.Context, id string) (*model.Invoice, error) {
	return findOne(r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`,
		id,
	), scanInvoice, "invoice")
}

// FindByIDAndOwner はIDと所有者の組で請求書を取得する。
// 存在しない場合と他ユーザーの請求書である場合はどちらもnilを返す。
func (r *PostgresInvoiceRepo) FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Invoice, error) {
	return findOne(r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND user_id = $2`,
		id, userID,
	), scanInvoice, "invoice")
}

// Create は請求書を作成する。
func (r *PostgresInvoiceRepo) Create(ctx context.Context, inv *model.Invoice) error {
	items := inv.Items
	if items == nil {
		items = []model.LineItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode invoice items: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO invoices (id, user_id, invoice_number, client_name, client_email, issue_date, due_date,
			items, total, status, logo_url, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inv.ID, inv.UserID, inv.InvoiceNumber, inv.ClientName, inv.ClientEmail, inv.IssueDate, inv.DueDate,
		itemsJSON, inv.Total, string(inv.Status), inv.LogoURL, inv.Notes, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// ListByOwner は指定ユーザーの請求書を作成日時の降順で返す。
func (r *PostgresInvoiceRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return collectInvoices(rows)
}

// ListAll は全ユーザーの請求書を作成日時の降順で返す。
func (r *PostgresInvoiceRepo) ListAll(ctx context.Context) ([]*model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list all invoices: %w", err)
	}
	return collectInvoices(rows)
}

// DeleteByUserID は指定ユーザーの全請求書を削除する。
func (r *PostgresInvoiceRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM invoices WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user invoices: %w", err)
	}
	return nil
}

func collectInvoices(rows *sql.Rows) ([]*model.Invoice, error) {
	defer rows.Close()

	invoices := []*model.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return invoices, nil
}

// compile-time interface check
var _ InvoiceRepository = (*PostgresInvoiceRepo)(nil)
