package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/clearbill/internal/model"
)

// PostgresIdentityRepo はIdPアカウントとユーザーの対応を引くリポジトリ。
// 作成はPostgresUserRepo.CreateWithIdentityがユーザーと同じトランザクションで行う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

func scanIdentity(row rowScanner) (*model.Identity, error) {
	i := &model.Identity{}
	if err := row.Scan(&i.ID, &i.UserID, &i.Provider, &i.ProviderUserID, &i.CreatedAt); err != nil {
		return nil, err
	}
	return i, nil
}

// FindByProviderAndProviderUserID はIdPとそのユーザーIDの組でidentityを引く。
// 初回ログインなど未登録の場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	return findOne(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	), scanIdentity, "identity")
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
