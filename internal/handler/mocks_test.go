package handler

import (
	"context"
	"time"

	"github.com/hitoshi/spotify-backup/internal/auth"
	"github.com/hitoshi/spotify-backup/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginURLFn       func(provider model.Provider, state string) (string, error)
	handleCallbackFn func(ctx context.Context, provider model.Provider, sessionID string, params auth.CallbackParams) (*model.Session, error)
}

func (m *mockAuthService) LoginURL(provider model.Provider, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, state)
	}
	return "https://" + string(provider) + ".example.com/authorize?state=" + state, nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, provider model.Provider, sessionID string, params auth.CallbackParams) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, provider, sessionID, params)
	}
	return &model.Session{ID: "session-new", AccountID: "account-1"}, nil
}

type mockLogoutService struct {
	logoutFn func(ctx context.Context, sessionID string) error
	calls    []string
}

func (m *mockLogoutService) Logout(ctx context.Context, sessionID string) error {
	m.calls = append(m.calls, sessionID)
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockAccountService struct {
	currentAccountFn func(ctx context.Context, accountID string) (*model.Account, error)
	unlinkFn         func(ctx context.Context, accountID string, provider model.Provider) error
	deleteFn         func(ctx context.Context, accountID string) (bool, error)
}

func (m *mockAccountService) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if m.currentAccountFn != nil {
		return m.currentAccountFn(ctx, accountID)
	}
	return &model.Account{ID: accountID}, nil
}

func (m *mockAccountService) UnlinkIdentity(ctx context.Context, accountID string, provider model.Provider) error {
	if m.unlinkFn != nil {
		return m.unlinkFn(ctx, accountID, provider)
	}
	return nil
}

func (m *mockAccountService) DeleteAccount(ctx context.Context, accountID string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, accountID)
	}
	return true, nil
}

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindActive(ctx context.Context, sessionID string, idleCutoff time.Time) (*model.Session, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	return nil, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

func newTestStateCodec() *auth.StateCodec {
	return auth.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)
}
