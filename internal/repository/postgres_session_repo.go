package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindActive はidleCutoffより後にアクセスのあったセッションのlast_seen_atを更新して返す。
// 見つからない場合、またはアイドル期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindActive(ctx context.Context, sessionID string, idleCutoff time.Time) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE sessions SET last_seen_at = now()
		 WHERE id = $1 AND last_seen_at > $2
		 RETURNING id, account_id, created_at, last_seen_at`,
		sessionID, idleCutoff,
	).Scan(&session.ID, &session.AccountID, &session.CreatedAt, &session.LastSeenAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
