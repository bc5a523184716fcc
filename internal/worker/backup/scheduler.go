// Package backup はお気に入りの曲の定期バックアップ処理を提供する。
// スケジューラとリトライ/バックオフ戦略を含む。
package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pipeline "github.com/hitoshi/spotify-backup/internal/backup"
	"github.com/hitoshi/spotify-backup/internal/metrics"
	"github.com/hitoshi/spotify-backup/internal/model"
	"github.com/hitoshi/spotify-backup/internal/repository"
)

// Runner は1アカウント分のバックアップを実行する。
type Runner interface {
	Run(ctx context.Context, target *model.BackupTarget) (*pipeline.Outcome, error)
}

// SchedulerConfig はスケジューラの設定。
type SchedulerConfig struct {
	// MaxConcurrency は同時に実行するバックアップの最大数（デフォルト: 4）。
	MaxConcurrency int
	// BatchSize は1サイクルで取得する対象アカウントの最大数（デフォルト: 100）。
	BatchSize int
	// BackupInterval は成功後の次回実行までの間隔（デフォルト: 24h）。
	BackupInterval time.Duration
}

// Scheduler はバックアップのスケジューリングと並列制御を行う。
// ティッカーで対象アカウントを取得し、semaphoreパターンで最大並列数を制御しながら実行する。
type Scheduler struct {
	repo    repository.BackupRepository
	runner  Runner
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	config  SchedulerConfig
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。collectorはnilでもよい。
func NewScheduler(
	repo repository.BackupRepository,
	runner Runner,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config SchedulerConfig,
) *Scheduler {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BackupInterval <= 0 {
		config.BackupInterval = 24 * time.Hour
	}
	return &Scheduler{
		repo:    repo,
		runner:  runner,
		logger:  logger,
		metrics: collector,
		config:  config,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("バックアップスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.config.MaxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("バックアップサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("バックアップスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("バックアップサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はバックアップ対象アカウントを1回取得し、並列でバックアップを実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 対象アカウントを取得（FOR UPDATE SKIP LOCKED + リース）
	targets, err := s.repo.ListDueForBackup(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		s.logger.Debug("バックアップ対象のアカウントはありません")
		return nil
	}

	s.logger.Info("バックアップサイクルを開始します",
		slog.Int("account_count", len(targets)),
	)

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		sem <- struct{}{}

		go func(t *model.BackupTarget) {
			defer wg.Done()
			defer func() { <-sem }()

			s.process(ctx, t)
		}(target)
	}

	wg.Wait()

	s.logger.Info("バックアップサイクルが完了しました",
		slog.Int("account_count", len(targets)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// process は1アカウント分のバックアップを実行し、結果に応じて状態を更新する。
func (s *Scheduler) process(ctx context.Context, target *model.BackupTarget) {
	start := time.Now()
	outcome, err := s.runner.Run(ctx, target)
	if s.metrics != nil {
		s.metrics.RecordBackupLatency(time.Since(start))
	}

	if err != nil {
		if ctx.Err() != nil {
			// シャットダウン中。リース期限後に再実行される
			s.logger.Warn("シャットダウンのためバックアップを中断しました",
				slog.String("account_id", target.AccountID),
			)
			return
		}
		s.applyFailure(target, err)
	} else {
		ApplySuccess(target, s.config.BackupInterval, outcome.SHA)
		if s.metrics != nil {
			s.metrics.RecordBackupSuccess(outcome.Changed)
			s.metrics.RecordTracksExported(outcome.TrackCount)
		}
	}

	if err := s.repo.UpdateBackupState(ctx, target); err != nil {
		s.logger.Error("バックアップ状態の保存に失敗しました",
			slog.String("account_id", target.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) applyFailure(target *model.BackupTarget, err error) {
	switch ClassifyError(err) {
	case BackupResultStop:
		ApplyStop(target, err.Error())
		if s.metrics != nil {
			s.metrics.RecordBackupFailure("stopped")
		}
		s.logger.Warn("認可エラーのためバックアップを停止しました",
			slog.String("account_id", target.AccountID),
			slog.String("error", err.Error()),
		)
	default:
		ApplyBackoff(target, err.Error())
		if s.metrics != nil {
			s.metrics.RecordBackupFailure("backoff")
		}
		s.logger.Error("バックアップに失敗しました",
			slog.String("account_id", target.AccountID),
			slog.Int("error_count", target.ErrorCount),
			slog.Time("next_backup_at", target.NextBackupAt),
			slog.String("error", err.Error()),
		)
	}
}
