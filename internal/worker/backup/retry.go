package backup

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// BackupResult はバックアップ失敗時の扱いの分類。
type BackupResult int

const (
	// BackupResultOK はAPI呼び出し成功（2xx）。
	BackupResultOK BackupResult = iota
	// BackupResultStop はバックアップ停止が必要な失敗（認可取り消し等）。
	BackupResultStop
	// BackupResultBackoff は時間を置いて再試行すべき失敗（429/5xx/通信エラー）。
	BackupResultBackoff
	// BackupResultUnknown は未知のステータスコード。
	BackupResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// ClassifyHTTPStatus はHTTPステータスコードをバックアップ結果に分類する。
func ClassifyHTTPStatus(statusCode int) BackupResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return BackupResultOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return BackupResultStop
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return BackupResultStop
	case statusCode == http.StatusTooManyRequests:
		return BackupResultBackoff
	case statusCode >= 500:
		return BackupResultBackoff
	default:
		return BackupResultUnknown
	}
}

// ClassifyError はRunnerが返したエラーを分類する。
// リフレッシュトークンが拒否された場合は、ユーザーが再ログインするまで回復しないため停止する。
func ClassifyError(err error) BackupResult {
	if err == nil {
		return BackupResultOK
	}

	var httpErr *model.ProviderHTTPError
	if errors.As(err, &httpErr) {
		return ClassifyHTTPStatus(httpErr.StatusCode)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_client", "bad_refresh_token":
			return BackupResultStop
		}
		if retrieveErr.Response != nil {
			return ClassifyHTTPStatus(retrieveErr.Response.StatusCode)
		}
		return BackupResultBackoff
	}

	return BackupResultBackoff
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop はアカウントのバックアップを停止する。
// 再ログインで認証情報が更新されるまで再開しない。
func ApplyStop(target *model.BackupTarget, reason string) {
	target.Status = model.BackupStatusStopped
	target.ErrorCount++
	target.ErrorMessage = reason
}

// ApplyBackoff は連続エラー回数をインクリメントし、指数バックオフで次回実行時刻を設定する。
func ApplyBackoff(target *model.BackupTarget, reason string) {
	target.ErrorCount++
	target.ErrorMessage = reason
	delay := CalculateBackoff(target.ErrorCount - 1)
	target.NextBackupAt = time.Now().Add(delay)
}

// ApplySuccess はバックアップ成功時に状態をリセットし、interval後に次回実行を設定する。
func ApplySuccess(target *model.BackupTarget, interval time.Duration, sha string) {
	now := time.Now()
	target.Status = model.BackupStatusActive
	target.ErrorCount = 0
	target.ErrorMessage = ""
	target.NextBackupAt = now.Add(interval)
	target.LastBackupAt = &now
	target.LastSHA = sha
}
