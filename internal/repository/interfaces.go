// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/clearbill/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はメールアドレスと表示名を更新する。
	UpdateProfile(ctx context.Context, id, email, name string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、invoicesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// InvoiceRepository は請求書データの永続化インターフェース。
// 所有者を条件に含む検索（FindByIDAndOwner）と、IDのみの検索（FindByID）の両方を提供し、
// どちらを使うかは呼び出し側の所有権ポリシーが決める。
type InvoiceRepository interface {
	// FindByID は指定IDの請求書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invoice, error)

	// FindByIDAndOwner はIDと所有者の組で請求書を取得する。
	// 存在しない場合と所有者が異なる場合を区別せずnilを返す。
	FindByIDAndOwner(ctx context.Context, id, userID string) (*model.Invoice, error)

	// Create は請求書を作成する。
	Create(ctx context.Context, invoice *model.Invoice) error

	// ListByOwner は指定ユーザーの請求書を作成日時の降順で返す。
	ListByOwner(ctx context.Context, userID string) ([]*model.Invoice, error)

	// ListAll は全ユーザーの請求書を作成日時の降順で返す。管理者向け。
	ListAll(ctx context.Context) ([]*model.Invoice, error)

	// DeleteByUserID は指定ユーザーの全請求書を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
