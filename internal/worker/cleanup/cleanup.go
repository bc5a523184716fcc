// Package cleanup はセッションと未完成アカウントの定期削除ジョブを提供する。
// アイドル期限を超えたセッション、セッションの残っていない未完成アカウント、
// どのアカウントにも紐付いていない古い認証情報を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/spotify-backup/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	pruneSessionsSQL = `DELETE FROM sessions WHERE last_seen_at < now() - $1::interval`

	// ログイン処理中（行ロック中）のアカウントは対象外にする
	pruneAbandonedAccountsSQL = `
		WITH abandoned AS (
			SELECT a.id FROM accounts a
			WHERE a.completed_at IS NULL
			  AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.account_id = a.id)
			FOR UPDATE OF a SKIP LOCKED
		)
		DELETE FROM accounts WHERE id IN (SELECT id FROM abandoned)`

	pruneUnclaimedSpotifySQL = `DELETE FROM spotify_auth WHERE account_id IS NULL AND updated_at < now() - $1::interval`
	pruneUnclaimedGitHubSQL  = `DELETE FROM github_auth WHERE account_id IS NULL AND updated_at < now() - $1::interval`
)

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions      int64
	Accounts      int64
	UnclaimedAuth int64
}

// CleanupJob はセッションと未完成アカウントの定期削除ジョブ。
// 冪等な削除処理のみを行うため、複数ワーカーで同時に実行しても安全。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	SessionIdleTimeout     time.Duration // セッションのアイドル期限（デフォルト: 720h）
	UnclaimedAuthRetention time.Duration // 未紐付け認証情報の保持期間（デフォルト: 168h）
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	return &CleanupJob{
		db:                     db,
		logger:                 logger,
		metrics:                collector,
		SessionIdleTimeout:     720 * time.Hour,
		UnclaimedAuthRetention: 168 * time.Hour,
	}
}

// Run は削除処理を順に実行する。
// セッションを先に削除し、その結果セッションがなくなった未完成アカウントも同じ回で削除する。
// 途中のステップが失敗しても残りのステップは実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	var errs []error

	n, err := j.exec(ctx, "sessions", pruneSessionsSQL, toInterval(j.SessionIdleTimeout))
	if err != nil {
		errs = append(errs, err)
	}
	res.Sessions = n

	n, err = j.exec(ctx, "abandoned_accounts", pruneAbandonedAccountsSQL)
	if err != nil {
		errs = append(errs, err)
	}
	res.Accounts = n

	retention := toInterval(j.UnclaimedAuthRetention)
	for _, q := range []string{pruneUnclaimedSpotifySQL, pruneUnclaimedGitHubSQL} {
		n, err = j.exec(ctx, "unclaimed_auth", q, retention)
		if err != nil {
			errs = append(errs, err)
		}
		res.UnclaimedAuth += n
	}

	if j.metrics != nil {
		if res.Sessions > 0 {
			j.metrics.RecordSessionsPruned(res.Sessions)
		}
		for i := int64(0); i < res.Accounts; i++ {
			j.metrics.RecordAccountDeleted("abandoned")
		}
	}

	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", res.Sessions),
		slog.Int64("accounts_deleted", res.Accounts),
		slog.Int64("unclaimed_auth_deleted", res.UnclaimedAuth),
		slog.Duration("session_idle_timeout", j.SessionIdleTimeout),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxのキャンセルで終了する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", target, err)
	}
	return n, nil
}

// toInterval はPostgreSQLのinterval文字列に変換する。
func toInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
