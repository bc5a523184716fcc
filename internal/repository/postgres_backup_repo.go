package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// backupLease は取得したアカウントを他ワーカーから隠す時間。
// 実行後はUpdateBackupStateで正しい次回時刻に上書きされる。
const backupLease = 30 * time.Minute

// PostgresBackupRepo はPostgreSQLを使用したバックアップ状態リポジトリ。
type PostgresBackupRepo struct {
	db *sql.DB
}

// NewPostgresBackupRepo はPostgresBackupRepoを生成する。
func NewPostgresBackupRepo(db *sql.DB) *PostgresBackupRepo {
	return &PostgresBackupRepo{db: db}
}

// ListDueForBackup はバックアップ対象のアカウントを取得する。
// next_backup_at <= now() かつ backup_status = 'active' の完成済みアカウントを
// FOR UPDATE SKIP LOCKEDで選び、next_backup_atをリース分だけ進めてから返す。
func (r *PostgresBackupRepo) ListDueForBackup(ctx context.Context, limit int) ([]*model.BackupTarget, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH due AS (
		    SELECT a.id FROM accounts a
		    WHERE a.next_backup_at <= now()
		      AND a.backup_status = 'active'
		      AND a.completed_at IS NOT NULL
		    ORDER BY a.next_backup_at ASC
		    LIMIT $1
		    FOR UPDATE SKIP LOCKED
		 ), leased AS (
		    UPDATE accounts a SET next_backup_at = now() + $2::interval
		    FROM due WHERE a.id = due.id
		    RETURNING a.id, a.backup_status, a.backup_errors, a.backup_error_message,
		              a.next_backup_at, a.last_backup_at, a.last_backup_sha
		 )
		 SELECT l.id, l.backup_status, l.backup_errors, l.backup_error_message,
		        l.next_backup_at, l.last_backup_at, l.last_backup_sha,
		        s.user_id, s.access_token, s.refresh_token, s.expires_at,
		        g.user_id, g.access_token, g.refresh_token, g.expires_at
		 FROM leased l
		 JOIN spotify_auth s ON s.account_id = l.id
		 JOIN github_auth g ON g.account_id = l.id`,
		limit, fmt.Sprintf("%d seconds", int(backupLease.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("バックアップ対象アカウントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var targets []*model.BackupTarget
	for rows.Next() {
		target := &model.BackupTarget{}
		var errorMessage, lastSHA, refreshToken, hostingRefresh sql.NullString
		var lastBackupAt, expiresAt, hostingExpires sql.NullTime

		if err := rows.Scan(
			&target.AccountID, &target.Status, &target.ErrorCount, &errorMessage,
			&target.NextBackupAt, &lastBackupAt, &lastSHA,
			&target.Streaming.UserID, &target.Streaming.AccessToken, &refreshToken, &expiresAt,
			&target.Hosting.UserID, &target.Hosting.AccessToken, &hostingRefresh, &hostingExpires,
		); err != nil {
			return nil, fmt.Errorf("バックアップ対象アカウントの読み取りに失敗しました: %w", err)
		}

		target.ErrorMessage = nullStringValue(errorMessage)
		target.LastSHA = nullStringValue(lastSHA)
		target.LastBackupAt = nullTimeValue(lastBackupAt)
		target.Streaming.Provider = model.ProviderSpotify
		target.Streaming.AccountID = target.AccountID
		target.Streaming.RefreshToken = nullStringValue(refreshToken)
		target.Streaming.ExpiresAt = nullTimeValue(expiresAt)
		target.Hosting.Provider = model.ProviderGitHub
		target.Hosting.AccountID = target.AccountID
		target.Hosting.RefreshToken = nullStringValue(hostingRefresh)
		target.Hosting.ExpiresAt = nullTimeValue(hostingExpires)

		targets = append(targets, target)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("バックアップ対象アカウントの走査に失敗しました: %w", err)
	}

	return targets, nil
}

// UpdateBackupState はアカウントのバックアップ状態を更新する。
func (r *PostgresBackupRepo) UpdateBackupState(ctx context.Context, target *model.BackupTarget) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    backup_status = $2,
		    backup_errors = $3,
		    backup_error_message = $4,
		    next_backup_at = $5,
		    last_backup_at = $6,
		    last_backup_sha = $7
		 WHERE id = $1`,
		target.AccountID,
		target.Status,
		target.ErrorCount,
		nullString(target.ErrorMessage),
		target.NextBackupAt,
		nullTime(target.LastBackupAt),
		nullString(target.LastSHA),
	)
	if err != nil {
		return fmt.Errorf("バックアップ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStreamingToken はリフレッシュ後のSpotifyトークンを保存する。
func (r *PostgresBackupRepo) UpdateStreamingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	if err := r.updateToken(ctx, "spotify_auth", userID, accessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("Spotifyトークンの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateHostingToken はリフレッシュ後のGitHubトークンを保存する。
func (r *PostgresBackupRepo) UpdateHostingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	if err := r.updateToken(ctx, "github_auth", userID, accessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("GitHubトークンの更新に失敗しました: %w", err)
	}
	return nil
}

// updateToken はrefreshTokenが空なら既存のリフレッシュトークンを残す。
func (r *PostgresBackupRepo) updateToken(ctx context.Context, table, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET
		    access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    expires_at = $4,
		    updated_at = now()
		 WHERE user_id = $1`, table),
		userID, accessToken, nullString(refreshToken), nullTime(expiresAt),
	)
	return err
}

// compile-time interface check
var _ BackupRepository = (*PostgresBackupRepo)(nil)
