package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// findOne はscanの結果を返す。行がなければ(nil, nil)を返す。
func findOne[T any](row rowScanner, scan func(rowScanner) (*T, error), what string) (*T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", what, err)
	}
	return v, nil
}

// requireAffected は更新系クエリが1行以上に作用したことを確認する。
func requireAffected(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", what, id)
	}
	return nil
}
