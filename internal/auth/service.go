// Package auth はOAuth認証フローを提供する。
// アカウントとの対応付けはaccountパッケージに委譲する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// CallbackParams はOAuthコールバックのクエリパラメータ。
// 成功時は{code, state}、失敗時は{error, error_description, state}。
type CallbackParams struct {
	Code             string `validate:"required_without=Error"`
	State            string `validate:"required"`
	Error            string
	ErrorDescription string
}

// Reconciler は外部IDをアカウントに対応付ける。
type Reconciler interface {
	LoginViaProvider(ctx context.Context, sessionID string, identity *model.ProviderIdentity) (*model.Session, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers  map[model.Provider]OAuthProvider
	reconciler Reconciler
	validate   *validator.Validate
}

// NewService はServiceを生成する。
func NewService(reconciler Reconciler, providers ...OAuthProvider) *Service {
	m := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		m[p.Provider()] = p
	}
	return &Service{
		providers:  m,
		reconciler: reconciler,
		validate:   validator.New(),
	}
}

// LoginURL は指定プロバイダーのOAuth認証URLを生成する。
func (s *Service) LoginURL(provider model.Provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewUnknownProviderError(string(provider))
	}
	return p.LoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、アカウントに対応付けたセッションを返す。
// プロバイダーが返したエラーやトークン交換の失敗はKindUpstreamとして返す。
func (s *Service) HandleCallback(ctx context.Context, provider model.Provider, sessionID string, params CallbackParams) (*model.Session, error) {
	const op = "oauth_callback"

	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(string(provider))
	}

	if err := s.validate.Struct(params); err != nil {
		return nil, upstream(op, provider, fmt.Errorf("malformed callback: %w", err))
	}
	if params.Error != "" {
		reason := params.Error
		if params.ErrorDescription != "" {
			reason += ": " + params.ErrorDescription
		}
		slog.Warn("oauth provider returned error",
			slog.String("provider", string(provider)),
			slog.String("error", params.Error),
			slog.String("error_description", params.ErrorDescription),
		)
		return nil, upstream(op, provider, errors.New(reason))
	}

	identity, err := p.Exchange(ctx, params.Code)
	if err != nil {
		slog.Error("oauth exchange failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		return nil, upstream(op, provider, err)
	}

	return s.reconciler.LoginViaProvider(ctx, sessionID, identity)
}

func upstream(op string, provider model.Provider, err error) error {
	return &model.ReconcileError{Kind: model.KindUpstream, Op: op, Provider: provider, Err: err}
}
