// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// ErrIdentityClaimed は紐付けようとした外部IDが別アカウントに紐付いている場合に返る。
var ErrIdentityClaimed = errors.New("identity already claimed by another account")

// Store はアカウント照合用のトランザクションを開始する。
type Store interface {
	// BeginTx はトランザクションを開始する。呼び出し側はCommitかRollbackを必ず呼ぶこと。
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx はアカウント照合処理に必要な操作を1トランザクション内で提供する。
// 読み取りもすべて同じトランザクションハンドルで行う。
type Tx interface {
	// UpsertAuthentication は外部IDの認証情報をuser_idをキーにUPSERTする。
	// 既存行はトークンと有効期限のみ更新し、created_atと紐付け先は変更しない。
	UpsertAuthentication(ctx context.Context, identity *model.ProviderIdentity) error

	// FindAccountByIdentity は外部IDが紐付いているアカウントIDを返す。未紐付けなら空文字。
	// 行ロックを取得する。
	FindAccountByIdentity(ctx context.Context, provider model.Provider, userID string) (string, error)

	// CreateAccount はIDを指定してアカウントを作成する。
	CreateAccount(ctx context.Context, accountID string) error

	// LockAccount はアカウントを行ロックして紐付け状態とともに返す。見つからない場合はnilを返す。
	LockAccount(ctx context.Context, accountID string) (*model.Account, error)

	// LinkIdentity は外部IDをアカウントに紐付ける。
	// アカウントに同じプロバイダーの別IDが紐付いていれば先に外す。
	// 外部IDが別アカウントに紐付いている場合はErrIdentityClaimedを返す。
	LinkIdentity(ctx context.Context, provider model.Provider, userID, accountID string) error

	// UnlinkIdentity はアカウントから指定プロバイダーのIDを外す。外した場合はtrue。
	UnlinkIdentity(ctx context.Context, provider model.Provider, accountID string) (bool, error)

	// MarkCompleted はcompleted_atが未設定なら現在時刻を設定する。
	// 停止中のバックアップは再ログインで認証情報が更新されたとみなして再開する。
	MarkCompleted(ctx context.Context, accountID string) error

	// FindSession は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)

	// CreateSession はセッションを作成する。
	CreateSession(ctx context.Context, session *model.Session) error

	// TouchSession はセッションのlast_seen_atを更新する。
	TouchSession(ctx context.Context, sessionID string) error

	// DeleteSession はセッションを削除する。削除した場合はtrue。
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// CountSessions はアカウントに紐付く残存セッション数を返す。
	CountSessions(ctx context.Context, accountID string) (int, error)

	// DeleteAccount はアカウントを削除し、影響行数を返す。
	// 認証情報とセッションはCASCADE削除される。
	DeleteAccount(ctx context.Context, accountID string) (int64, error)

	// Commit はトランザクションを確定する。
	Commit() error

	// Rollback はトランザクションを破棄する。Commit後に呼んでもエラーにしない。
	Rollback() error
}

// SessionRepository はリクエスト毎のセッション解決に使う非トランザクション操作。
type SessionRepository interface {
	// FindActive はidleCutoffより後にアクセスのあったセッションを取得し、last_seen_atを更新する。
	// 見つからない場合はnilを返す。
	FindActive(ctx context.Context, sessionID string, idleCutoff time.Time) (*model.Session, error)
}

// AccountRepository はアカウントの参照系操作。
type AccountRepository interface {
	// FindByID は紐付け状態を含めてアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, accountID string) (*model.Account, error)
}

// BackupRepository はバックアップワーカー用の永続化インターフェース。
type BackupRepository interface {
	// ListDueForBackup はnext_backup_at <= now() の完成済みアカウントを
	// FOR UPDATE SKIP LOCKEDで取得する。
	ListDueForBackup(ctx context.Context, limit int) ([]*model.BackupTarget, error)

	// UpdateBackupState はバックアップ状態（エラー数、次回実行時刻、最終SHA等）を更新する。
	UpdateBackupState(ctx context.Context, target *model.BackupTarget) error

	// UpdateStreamingToken はリフレッシュされたSpotifyトークンを保存する。
	UpdateStreamingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error

	// UpdateHostingToken はリフレッシュされたGitHubトークンを保存する。
	UpdateHostingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
}
