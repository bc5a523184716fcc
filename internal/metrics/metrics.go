// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	RecordAccountDeleted(reason string)
	RecordSessionsPruned(count int64)
	RecordBackupSuccess(changed bool)
	RecordBackupFailure(reason string)
	RecordProviderStatus(provider string, statusCode int)
	RecordBackupLatency(duration time.Duration)
	RecordTracksExported(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	accountsDeleted *prometheus.CounterVec
	sessionsPruned  prometheus.Counter
	backupRuns      *prometheus.CounterVec
	providerStatus  *prometheus.CounterVec
	backupLatency   prometheus.Histogram
	tracksExported  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotify_backup_logins_total",
			Help: "プロバイダー別・結果別のログイン数",
		}, []string{"provider", "outcome"}),
		accountsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotify_backup_accounts_deleted_total",
			Help: "削除されたアカウント数（理由別）",
		}, []string{"reason"}),
		sessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotify_backup_sessions_pruned_total",
			Help: "アイドル期限切れで削除されたセッション数",
		}),
		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotify_backup_runs_total",
			Help: "バックアップ実行数（結果別）",
		}, []string{"result"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotify_backup_provider_http_status_total",
			Help: "外部APIのHTTPステータスコード別レスポンス数",
		}, []string{"provider", "status_code"}),
		backupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotify_backup_run_latency_seconds",
			Help:    "1アカウントのバックアップ所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tracksExported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotify_backup_tracks_total",
			Help: "CSVに書き出した曲数の合計",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.accountsDeleted,
		c.sessionsPruned,
		c.backupRuns,
		c.providerStatus,
		c.backupLatency,
		c.tracksExported,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordAccountDeleted はアカウント削除を記録する。
func (c *Collector) RecordAccountDeleted(reason string) {
	c.accountsDeleted.WithLabelValues(reason).Inc()
}

// RecordSessionsPruned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPruned(count int64) {
	c.sessionsPruned.Add(float64(count))
}

// RecordBackupSuccess はバックアップ成功を記録する。changedがfalseならコミットなし。
func (c *Collector) RecordBackupSuccess(changed bool) {
	result := "unchanged"
	if changed {
		result = "committed"
	}
	c.backupRuns.WithLabelValues(result).Inc()
}

// RecordBackupFailure はバックアップ失敗を記録する。
func (c *Collector) RecordBackupFailure(reason string) {
	c.backupRuns.WithLabelValues("failed_" + reason).Inc()
}

// RecordProviderStatus は外部APIのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(provider string, statusCode int) {
	c.providerStatus.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
}

// RecordBackupLatency はバックアップのレイテンシを記録する。
func (c *Collector) RecordBackupLatency(duration time.Duration) {
	c.backupLatency.Observe(duration.Seconds())
}

// RecordTracksExported は書き出した曲数を記録する。
func (c *Collector) RecordTracksExported(count int) {
	c.tracksExported.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
