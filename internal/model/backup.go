package model

import (
	"fmt"
	"time"
)

// BackupStatus はアカウントのバックアップ状態を表す。
type BackupStatus string

const (
	// BackupStatusActive は定期バックアップが有効な状態。
	BackupStatusActive BackupStatus = "active"
	// BackupStatusStopped は認可エラー等でバックアップを停止した状態。
	BackupStatusStopped BackupStatus = "stopped"
)

// BackupTarget はバックアップ対象の完成済みアカウントと、その実行に必要な認証情報をまとめたもの。
type BackupTarget struct {
	AccountID    string
	Streaming    Authentication
	Hosting      Authentication
	Status       BackupStatus
	ErrorCount   int
	ErrorMessage string
	NextBackupAt time.Time
	LastBackupAt *time.Time
	LastSHA      string
}

// Track はSpotifyの「お気に入りの曲」1件を表す。
type Track struct {
	ID          string
	Name        string
	Album       string
	Artists     []string
	ReleaseDate string
	AddedAt     time.Time
}

// ProviderHTTPError は外部APIが成功以外のHTTPステータスを返したことを表す。
// バックアップワーカーはStatusCodeで停止・バックオフを判定する。
type ProviderHTTPError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderHTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s api returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}
