// Package model はドメインモデルを定義する。
package model

import "time"

// Provider は外部OAuthプロバイダーの種別を表す。
type Provider string

const (
	// ProviderSpotify はバックアップ元となる音楽ストリーミングサービス。
	ProviderSpotify Provider = "spotify"
	// ProviderGitHub はバックアップ先となるコードホスティングサービス。
	ProviderGitHub Provider = "github"
)

// Providers は対応している全プロバイダー。
var Providers = []Provider{ProviderSpotify, ProviderGitHub}

// ParseProvider は文字列をProviderに変換する。未対応の場合はfalseを返す。
func ParseProvider(s string) (Provider, bool) {
	for _, p := range Providers {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Account はサービス内の正規アカウントを表す。
// Spotify IDとGitHub IDの両方が紐付くと完成（Complete）となる。
type Account struct {
	ID              string
	CreatedAt       time.Time
	CompletedAt     *time.Time // 初めて完成した時刻
	StreamingUserID string     // 空なら未紐付け
	HostingUserID   string     // 空なら未紐付け
}

// IsComplete は両方の外部IDが紐付いているかを返す。
func (a *Account) IsComplete() bool {
	return a.StreamingUserID != "" && a.HostingUserID != ""
}

// IdentityOf は指定プロバイダーの紐付け済みユーザーIDを返す。
func (a *Account) IdentityOf(p Provider) string {
	switch p {
	case ProviderSpotify:
		return a.StreamingUserID
	case ProviderGitHub:
		return a.HostingUserID
	}
	return ""
}

// EverCompleted は一度でも完成状態になったことがあるかを返す。
func (a *Account) EverCompleted() bool {
	return a.CompletedAt != nil || a.IsComplete()
}

// ProviderIdentity はOAuthフロー完了時に得られる外部IDとトークンの組。
type ProviderIdentity struct {
	Provider     Provider   `validate:"required,oneof=spotify github"`
	UserID       string     `validate:"required,max=255"`
	AccessToken  string     `validate:"required"`
	RefreshToken string     // 省略可
	ExpiresAt    *time.Time // 省略可
}

// Authentication は外部プロバイダーごとの認証情報レコードを表す。
type Authentication struct {
	Provider     Provider
	UserID       string
	AccountID    string // 空なら未紐付け
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はブラウザとアカウントを結びつけるサーバー側セッションを表す。
type Session struct {
	ID         string
	AccountID  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}
