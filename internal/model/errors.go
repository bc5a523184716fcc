// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeIdentityClaimed   = "IDENTITY_ALREADY_CLAIMED"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeUnknownProvider   = "UNKNOWN_PROVIDER"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeInvalidDecree     = "INVALID_DECREE"
	ErrCodeAccountIncomplete = "ACCOUNT_INCOMPLETE"
)

// ErrorKind はアカウント照合処理の失敗種別。値は閉じた集合で、HTTP層で網羅的に扱う。
type ErrorKind int

const (
	// KindInternal はDB接続断や想定外の制約違反など。
	KindInternal ErrorKind = iota
	// KindConflict は外部IDが別アカウントに既に紐付いている。
	KindConflict
	// KindUpstream は外部プロバイダーがOAuthエラーを返したか到達できない。
	KindUpstream
	// KindNotFound は指定セッションが存在しない。
	KindNotFound
)

// String はログ出力用の名前を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// ReconcileError はアカウント照合処理の型付きエラー。
type ReconcileError struct {
	Kind           ErrorKind
	Op             string // 失敗した操作名
	Provider       Provider
	ProviderUserID string
	AccountID      string
	Err            error
}

// Error はerrorインターフェースを実装する。
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Provider != "" {
		msg += fmt.Sprintf(" (provider=%s user=%s)", e.Provider, e.ProviderUserID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は元のエラーを返す。
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// KindOf はエラーチェーンからErrorKindを取り出す。ReconcileErrorを含まない場合はKindInternal。
func KindOf(err error) ErrorKind {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// NewIdentityClaimedError は外部IDが既に別アカウントに紐付いている場合のエラーを生成する。
func NewIdentityClaimedError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityClaimed,
		Message:  fmt.Sprintf("この%sアカウントは既に別のアカウントに紐付いています。", provider),
		Category: "account",
		Action:   "紐付け済みのアカウントでログインし直すか、別の外部アカウントを使用してください。",
	}
}

// NewProviderFailedError は外部プロバイダーとの通信失敗エラーを生成する。
func NewProviderFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderFailed,
		Message:  fmt.Sprintf("外部サービスでの認証に失敗しました: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownProviderError は未対応プロバイダー指定時のエラーを生成する。
func NewUnknownProviderError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", name),
		Category: "validation",
		Action:   "spotify または github を指定してください。",
	}
}

// NewInvalidStateError はOAuth stateの検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "認証リクエストが無効か期限切れです。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewInvalidDecreeError はアカウント削除の確認文言が一致しない場合のエラーを生成する。
func NewInvalidDecreeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDecree,
		Message:  "確認文言が一致しません。",
		Category: "validation",
		Action:   "表示された確認文言をそのまま入力してください。",
	}
}

// NewAccountIncompleteError は完成前のアカウントで許可されない操作を行った場合のエラーを生成する。
func NewAccountIncompleteError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountIncomplete,
		Message:  "SpotifyとGitHubの両方を連携するまでこの操作は行えません。",
		Category: "account",
		Action:   "未連携のサービスでログインしてください。",
	}
}
