package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// authTable はプロバイダーに対応する認証情報テーブル名を返す。
// 戻り値は固定の識別子のみで、SQLに直接埋め込んで安全。
func authTable(p model.Provider) (string, error) {
	switch p {
	case model.ProviderSpotify:
		return "spotify_auth", nil
	case model.ProviderGitHub:
		return "github_auth", nil
	}
	return "", fmt.Errorf("unknown provider: %q", p)
}

// PostgresStore はPostgreSQLを使用したStore実装。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// BeginTx はREAD COMMITTEDのトランザクションを開始する。
// 同一外部IDへの同時ログインはUPSERTの行ロックと一意制約で直列化される。
func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) UpsertAuthentication(ctx context.Context, identity *model.ProviderIdentity) error {
	table, err := authTable(identity.Provider)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s (user_id, access_token, refresh_token, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		    access_token = EXCLUDED.access_token,
		    refresh_token = COALESCE(EXCLUDED.refresh_token, %[1]s.refresh_token),
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`, table),
		identity.UserID, identity.AccessToken, nullString(identity.RefreshToken), nullTime(identity.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

func (t *postgresTx) FindAccountByIdentity(ctx context.Context, provider model.Provider, userID string) (string, error) {
	table, err := authTable(provider)
	if err != nil {
		return "", err
	}

	var accountID sql.NullString
	err = t.tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT account_id FROM %s WHERE user_id = $1 FOR UPDATE`, table),
		userID,
	).Scan(&accountID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find account by identity: %w", err)
	}
	return nullStringValue(accountID), nil
}

func (t *postgresTx) CreateAccount(ctx context.Context, accountID string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id) VALUES ($1)`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (t *postgresTx) LockAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx,
		selectAccountSQL+` WHERE a.id = $1 FOR UPDATE OF a`,
		accountID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

func (t *postgresTx) LinkIdentity(ctx context.Context, provider model.Provider, userID, accountID string) error {
	table, err := authTable(provider)
	if err != nil {
		return err
	}

	// 同じプロバイダーの旧IDを外す
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET account_id = NULL, updated_at = now()
		 WHERE account_id = $1 AND user_id <> $2`, table),
		accountID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink previous %s identity: %w", provider, err)
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET account_id = $1, updated_at = now()
		 WHERE user_id = $2 AND (account_id IS NULL OR account_id = $1)`, table),
		accountID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to link %s identity: %w", provider, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrIdentityClaimed
	}
	return nil
}

func (t *postgresTx) UnlinkIdentity(ctx context.Context, provider model.Provider, accountID string) (bool, error) {
	table, err := authTable(provider)
	if err != nil {
		return false, err
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET account_id = NULL, updated_at = now() WHERE account_id = $1`, table),
		accountID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to unlink %s identity: %w", provider, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *postgresTx) MarkCompleted(ctx context.Context, accountID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET
		    completed_at = COALESCE(completed_at, now()),
		    backup_status = 'active',
		    backup_errors = CASE WHEN backup_status = 'stopped' THEN 0 ELSE backup_errors END,
		    backup_error_message = CASE WHEN backup_status = 'stopped' THEN NULL ELSE backup_error_message END,
		    next_backup_at = CASE WHEN backup_status = 'stopped' THEN now() ELSE next_backup_at END
		 WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark account completed: %w", err)
	}
	return nil
}

func (t *postgresTx) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session := &model.Session{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, created_at, last_seen_at
		 FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&session.ID, &session.AccountID, &session.CreatedAt, &session.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

func (t *postgresTx) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.AccountID, session.CreatedAt, session.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (t *postgresTx) TouchSession(ctx context.Context, sessionID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = now() WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *postgresTx) CountSessions(ctx context.Context, accountID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE account_id = $1`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (t *postgresTx) DeleteAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// selectAccountSQL はアカウントと紐付け済み外部IDを取得する共通SELECT。
const selectAccountSQL = `SELECT a.id, a.created_at, a.completed_at, s.user_id, g.user_id
	 FROM accounts a
	 LEFT JOIN spotify_auth s ON s.account_id = a.id
	 LEFT JOIN github_auth g ON g.account_id = a.id`

// scanAccount は1行をAccountに変換する。行がない場合はnilを返す。
func scanAccount(row *sql.Row) (*model.Account, error) {
	account := &model.Account{}
	var completedAt sql.NullTime
	var streaming, hosting sql.NullString
	err := row.Scan(&account.ID, &account.CreatedAt, &completedAt, &streaming, &hosting)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	account.CompletedAt = nullTimeValue(completedAt)
	account.StreamingUserID = nullStringValue(streaming)
	account.HostingUserID = nullStringValue(hosting)
	return account, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
var _ Tx = (*postgresTx)(nil)
