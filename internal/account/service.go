// Package account はアカウント照合（外部IDとアカウント・セッションの対応付け）のドメインロジックを提供する。
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/spotify-backup/internal/metrics"
	"github.com/hitoshi/spotify-backup/internal/model"
	"github.com/hitoshi/spotify-backup/internal/repository"
)

// ログイン結果のメトリクスラベル
const (
	outcomeCreated   = "created"
	outcomeLinked    = "linked"
	outcomeReturning = "returning"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
)

// Service はアカウント照合サービス。
// すべての状態変更は1トランザクション内で行い、失敗時は全体をロールバックする。
type Service struct {
	store    repository.Store
	accounts repository.AccountRepository
	metrics  metrics.MetricsCollector
	validate *validator.Validate

	now   func() time.Time
	newID func() string
}

// NewService はServiceを生成する。collectorはnilでもよい。
func NewService(store repository.Store, accounts repository.AccountRepository, collector metrics.MetricsCollector) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		metrics:  collector,
		validate: validator.New(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// LoginViaProvider はOAuthログイン直後の外部IDをアカウントに対応付け、セッションを返す。
//
// 対応付け先の優先順位:
//  1. 外部IDが既に紐付いているアカウント
//  2. 現在のセッションのアカウント（同じプロバイダーの旧IDは差し替える）
//  3. 新規アカウント
//
// 現在のセッションが別アカウントを指していた場合は、新しいセッションを作成してから旧セッションを削除する。
// 旧アカウントが未完成かつ他にセッションを持たなければ削除する。
func (s *Service) LoginViaProvider(ctx context.Context, sessionID string, identity *model.ProviderIdentity) (*model.Session, error) {
	const op = "login_via_provider"

	if identity == nil {
		return nil, s.fail(op, model.KindUpstream, nil, "", errors.New("provider identity is missing"))
	}
	if err := s.validate.Struct(identity); err != nil {
		return nil, s.fail(op, model.KindUpstream, identity, "", fmt.Errorf("invalid provider identity: %w", err))
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, s.fail(op, model.KindInternal, identity, "", err)
	}
	defer tx.Rollback()

	if err := tx.UpsertAuthentication(ctx, identity); err != nil {
		return nil, s.fail(op, classify(err), identity, "", err)
	}

	var current *model.Session
	if sessionID != "" {
		current, err = tx.FindSession(ctx, sessionID)
		if err != nil {
			return nil, s.fail(op, model.KindInternal, identity, "", err)
		}
	}

	targetID, err := tx.FindAccountByIdentity(ctx, identity.Provider, identity.UserID)
	if err != nil {
		return nil, s.fail(op, model.KindInternal, identity, "", err)
	}

	outcome := outcomeReturning
	switch {
	case targetID != "":
		// 既に紐付いている外部ID
	case current != nil:
		targetID = current.AccountID
		if err := tx.LinkIdentity(ctx, identity.Provider, identity.UserID, targetID); err != nil {
			return nil, s.fail(op, classify(err), identity, targetID, err)
		}
		outcome = outcomeLinked
	default:
		targetID = s.newID()
		if err := tx.CreateAccount(ctx, targetID); err != nil {
			return nil, s.fail(op, classify(err), identity, targetID, err)
		}
		if err := tx.LinkIdentity(ctx, identity.Provider, identity.UserID, targetID); err != nil {
			return nil, s.fail(op, classify(err), identity, targetID, err)
		}
		outcome = outcomeCreated
	}

	account, err := tx.LockAccount(ctx, targetID)
	if err != nil {
		return nil, s.fail(op, model.KindInternal, identity, targetID, err)
	}
	if account == nil {
		return nil, s.fail(op, model.KindInternal, identity, targetID, errors.New("target account disappeared"))
	}
	if account.IsComplete() {
		if err := tx.MarkCompleted(ctx, targetID); err != nil {
			return nil, s.fail(op, model.KindInternal, identity, targetID, err)
		}
	}

	var session *model.Session
	if current != nil && current.AccountID == targetID {
		if err := tx.TouchSession(ctx, current.ID); err != nil {
			return nil, s.fail(op, model.KindInternal, identity, targetID, err)
		}
		session = current
		session.LastSeenAt = s.now()
	} else {
		session, err = s.newSession(targetID)
		if err != nil {
			return nil, s.fail(op, model.KindInternal, identity, targetID, err)
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return nil, s.fail(op, model.KindInternal, identity, targetID, err)
		}
		if current != nil {
			if _, err := tx.DeleteSession(ctx, current.ID); err != nil {
				return nil, s.fail(op, model.KindInternal, identity, targetID, err)
			}
			removed, err := collectAbandoned(ctx, tx, current.AccountID)
			if err != nil {
				return nil, s.fail(op, model.KindInternal, identity, current.AccountID, err)
			}
			if removed {
				s.recordDeleted("abandoned")
				slog.Info("abandoned account removed",
					slog.String("account_id", current.AccountID),
					slog.String("replaced_by", targetID),
				)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail(op, classify(err), identity, targetID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordLogin(string(identity.Provider), outcome)
	}
	slog.Info("login reconciled",
		slog.String("provider", string(identity.Provider)),
		slog.String("provider_user_id", identity.UserID),
		slog.String("account_id", targetID),
		slog.String("outcome", outcome),
		slog.Bool("complete", account.IsComplete()),
	)

	return session, nil
}

// Logout はセッションを削除する。存在しないセッションの場合は何もしない。
// 残存セッションのない未完成アカウントは削除する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	const op = "logout"

	if sessionID == "" {
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return s.fail(op, model.KindInternal, nil, "", err)
	}
	defer tx.Rollback()

	session, err := tx.FindSession(ctx, sessionID)
	if err != nil {
		return s.fail(op, model.KindInternal, nil, "", err)
	}
	if session == nil {
		return nil
	}

	if _, err := tx.DeleteSession(ctx, sessionID); err != nil {
		return s.fail(op, model.KindInternal, nil, session.AccountID, err)
	}
	removed, err := collectAbandoned(ctx, tx, session.AccountID)
	if err != nil {
		return s.fail(op, model.KindInternal, nil, session.AccountID, err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail(op, model.KindInternal, nil, session.AccountID, err)
	}

	if removed {
		s.recordDeleted("abandoned")
	}
	slog.Info("user logged out",
		slog.String("account_id", session.AccountID),
		slog.Bool("account_removed", removed),
	)
	return nil
}

// DeleteAccount はアカウントを削除する。認証情報とセッションはCASCADE削除される。
// 既に存在しない場合は警告ログを出してfalseを返す。
func (s *Service) DeleteAccount(ctx context.Context, accountID string) (bool, error) {
	const op = "delete_account"

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, s.fail(op, model.KindInternal, nil, accountID, err)
	}
	defer tx.Rollback()

	n, err := tx.DeleteAccount(ctx, accountID)
	if err != nil {
		return false, s.fail(op, model.KindInternal, nil, accountID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, s.fail(op, model.KindInternal, nil, accountID, err)
	}

	if n == 0 {
		slog.Warn("account deletion affected no rows",
			slog.String("op", op),
			slog.String("account_id", accountID),
		)
		return false, nil
	}

	s.recordDeleted("user")
	slog.Info("account deleted", slog.String("account_id", accountID))
	return true, nil
}

// UnlinkIdentity は完成済みアカウントから指定プロバイダーのIDを外す。
// アカウント自体は削除しない。
func (s *Service) UnlinkIdentity(ctx context.Context, accountID string, provider model.Provider) error {
	const op = "unlink_identity"

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return s.fail(op, model.KindInternal, nil, accountID, err)
	}
	defer tx.Rollback()

	account, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return s.fail(op, model.KindInternal, nil, accountID, err)
	}
	if account == nil {
		return s.fail(op, model.KindNotFound, nil, accountID, errors.New("account not found"))
	}
	if !account.IsComplete() {
		return model.NewAccountIncompleteError()
	}

	if _, err := tx.UnlinkIdentity(ctx, provider, accountID); err != nil {
		return s.fail(op, model.KindInternal, nil, accountID, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail(op, model.KindInternal, nil, accountID, err)
	}

	slog.Info("identity unlinked",
		slog.String("account_id", accountID),
		slog.String("provider", string(provider)),
	)
	return nil
}

// CurrentAccount はアカウントを紐付け状態とともに返す。
func (s *Service) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	const op = "current_account"

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, s.fail(op, model.KindInternal, nil, accountID, err)
	}
	if account == nil {
		return nil, &model.ReconcileError{Kind: model.KindNotFound, Op: op, AccountID: accountID}
	}
	return account, nil
}

// collectAbandoned は一度も完成しておらずセッションも残っていないアカウントを削除する。
func collectAbandoned(ctx context.Context, tx repository.Tx, accountID string) (bool, error) {
	account, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account == nil || account.EverCompleted() {
		return false, nil
	}

	remaining, err := tx.CountSessions(ctx, accountID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	n, err := tx.DeleteAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// newSession は新しいセッションを生成する。永続化は呼び出し側で行う。
func (s *Service) newSession(accountID string) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := s.now()
	return &model.Session{
		ID:         id,
		AccountID:  accountID,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// fail は失敗を1回だけログに記録し、型付きエラーに変換する。
func (s *Service) fail(op string, kind model.ErrorKind, identity *model.ProviderIdentity, accountID string, err error) error {
	re := &model.ReconcileError{Kind: kind, Op: op, AccountID: accountID, Err: err}
	if identity != nil {
		re.Provider = identity.Provider
		re.ProviderUserID = identity.UserID
	}

	attrs := []any{
		slog.String("op", op),
		slog.String("kind", kind.String()),
		slog.String("provider", string(re.Provider)),
		slog.String("provider_user_id", re.ProviderUserID),
		slog.String("account_id", accountID),
		slog.String("error", err.Error()),
	}
	switch kind {
	case model.KindInternal:
		slog.Error("account reconciliation failed", attrs...)
	default:
		slog.Warn("account reconciliation rejected", attrs...)
	}

	if s.metrics != nil && op == "login_via_provider" {
		outcome := outcomeError
		if kind == model.KindConflict {
			outcome = outcomeConflict
		}
		s.metrics.RecordLogin(string(re.Provider), outcome)
	}
	return re
}

func (s *Service) recordDeleted(reason string) {
	if s.metrics != nil {
		s.metrics.RecordAccountDeleted(reason)
	}
}

// classify は一意制約違反と紐付け競合をKindConflictに分類する。
func classify(err error) model.ErrorKind {
	if errors.Is(err, repository.ErrIdentityClaimed) || repository.IsUniqueViolation(err) {
		return model.KindConflict
	}
	return model.KindInternal
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
