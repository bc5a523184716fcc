package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウント参照リポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx,
		selectAccountSQL+` WHERE a.id = $1`,
		accountID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
