package account

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
	"github.com/hitoshi/spotify-backup/internal/repository"
)

// --- インメモリのStore実装 ---
// トランザクションはストア全体のロックで直列化し、Commit時に作業コピーを反映する。

type fakeAccountRow struct {
	ID          string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type fakeState struct {
	accounts map[string]fakeAccountRow
	auths    map[model.Provider]map[string]model.Authentication
	sessions map[string]model.Session
}

func newFakeState() *fakeState {
	return &fakeState{
		accounts: map[string]fakeAccountRow{},
		auths: map[model.Provider]map[string]model.Authentication{
			model.ProviderSpotify: {},
			model.ProviderGitHub:  {},
		},
		sessions: map[string]model.Session{},
	}
}

func (s *fakeState) clone() *fakeState {
	c := newFakeState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for p, rows := range s.auths {
		for k, v := range rows {
			c.auths[p][k] = v
		}
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

func (s *fakeState) account(id string) *model.Account {
	row, ok := s.accounts[id]
	if !ok {
		return nil
	}
	a := &model.Account{ID: row.ID, CreatedAt: row.CreatedAt, CompletedAt: row.CompletedAt}
	for _, auth := range s.auths[model.ProviderSpotify] {
		if auth.AccountID == id {
			a.StreamingUserID = auth.UserID
		}
	}
	for _, auth := range s.auths[model.ProviderGitHub] {
		if auth.AccountID == id {
			a.HostingUserID = auth.UserID
		}
	}
	return a
}

type fakeStore struct {
	mu    sync.Mutex
	state *fakeState

	// failOn はメソッド名ごとに返すエラー。障害注入用。
	failMu sync.Mutex
	failOn map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newFakeState(), failOn: map[string]error{}}
}

func (s *fakeStore) inject(method string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failOn[method] = err
}

func (s *fakeStore) injected(method string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failOn[method]
}

// snapshot はコミット済み状態のコピーを返す。
func (s *fakeStore) snapshot() *fakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *fakeStore) BeginTx(ctx context.Context) (repository.Tx, error) {
	if err := s.injected("BeginTx"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &fakeTx{store: s, state: s.state.clone()}, nil
}

// FindByID はAccountRepositoryとしての参照を提供する。
func (s *fakeStore) FindByID(ctx context.Context, accountID string) (*model.Account, error) {
	if err := s.injected("FindByID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.account(accountID), nil
}

type fakeTx struct {
	store *fakeStore
	state *fakeState
	done  bool
}

func (t *fakeTx) UpsertAuthentication(ctx context.Context, identity *model.ProviderIdentity) error {
	if err := t.store.injected("UpsertAuthentication"); err != nil {
		return err
	}
	now := time.Now()
	rows := t.state.auths[identity.Provider]
	row, ok := rows[identity.UserID]
	if !ok {
		row = model.Authentication{Provider: identity.Provider, UserID: identity.UserID, CreatedAt: now}
	}
	row.AccessToken = identity.AccessToken
	if identity.RefreshToken != "" {
		row.RefreshToken = identity.RefreshToken
	}
	row.ExpiresAt = identity.ExpiresAt
	row.UpdatedAt = now
	rows[identity.UserID] = row
	return nil
}

func (t *fakeTx) FindAccountByIdentity(ctx context.Context, provider model.Provider, userID string) (string, error) {
	if err := t.store.injected("FindAccountByIdentity"); err != nil {
		return "", err
	}
	return t.state.auths[provider][userID].AccountID, nil
}

func (t *fakeTx) CreateAccount(ctx context.Context, accountID string) error {
	if err := t.store.injected("CreateAccount"); err != nil {
		return err
	}
	t.state.accounts[accountID] = fakeAccountRow{ID: accountID, CreatedAt: time.Now()}
	return nil
}

func (t *fakeTx) LockAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if err := t.store.injected("LockAccount"); err != nil {
		return nil, err
	}
	return t.state.account(accountID), nil
}

func (t *fakeTx) LinkIdentity(ctx context.Context, provider model.Provider, userID, accountID string) error {
	if err := t.store.injected("LinkIdentity"); err != nil {
		return err
	}
	rows := t.state.auths[provider]
	for k, row := range rows {
		if row.AccountID == accountID && k != userID {
			row.AccountID = ""
			rows[k] = row
		}
	}
	row, ok := rows[userID]
	if !ok || (row.AccountID != "" && row.AccountID != accountID) {
		return repository.ErrIdentityClaimed
	}
	row.AccountID = accountID
	rows[userID] = row
	return nil
}

func (t *fakeTx) UnlinkIdentity(ctx context.Context, provider model.Provider, accountID string) (bool, error) {
	if err := t.store.injected("UnlinkIdentity"); err != nil {
		return false, err
	}
	rows := t.state.auths[provider]
	for k, row := range rows {
		if row.AccountID == accountID {
			row.AccountID = ""
			rows[k] = row
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) MarkCompleted(ctx context.Context, accountID string) error {
	if err := t.store.injected("MarkCompleted"); err != nil {
		return err
	}
	row, ok := t.state.accounts[accountID]
	if ok && row.CompletedAt == nil {
		now := time.Now()
		row.CompletedAt = &now
		t.state.accounts[accountID] = row
	}
	return nil
}

func (t *fakeTx) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := t.store.injected("FindSession"); err != nil {
		return nil, err
	}
	session, ok := t.state.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (t *fakeTx) CreateSession(ctx context.Context, session *model.Session) error {
	if err := t.store.injected("CreateSession"); err != nil {
		return err
	}
	t.state.sessions[session.ID] = *session
	return nil
}

func (t *fakeTx) TouchSession(ctx context.Context, sessionID string) error {
	if err := t.store.injected("TouchSession"); err != nil {
		return err
	}
	if session, ok := t.state.sessions[sessionID]; ok {
		session.LastSeenAt = time.Now()
		t.state.sessions[sessionID] = session
	}
	return nil
}

func (t *fakeTx) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	if err := t.store.injected("DeleteSession"); err != nil {
		return false, err
	}
	_, ok := t.state.sessions[sessionID]
	delete(t.state.sessions, sessionID)
	return ok, nil
}

func (t *fakeTx) CountSessions(ctx context.Context, accountID string) (int, error) {
	if err := t.store.injected("CountSessions"); err != nil {
		return 0, err
	}
	n := 0
	for _, session := range t.state.sessions {
		if session.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// DeleteAccount はON DELETE CASCADEを再現する。
func (t *fakeTx) DeleteAccount(ctx context.Context, accountID string) (int64, error) {
	if err := t.store.injected("DeleteAccount"); err != nil {
		return 0, err
	}
	if _, ok := t.state.accounts[accountID]; !ok {
		return 0, nil
	}
	delete(t.state.accounts, accountID)
	for _, rows := range t.state.auths {
		for k, row := range rows {
			if row.AccountID == accountID {
				delete(rows, k)
			}
		}
	}
	for k, session := range t.state.sessions {
		if session.AccountID == accountID {
			delete(t.state.sessions, k)
		}
	}
	return 1, nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return nil
	}
	if err := t.store.injected("Commit"); err != nil {
		t.done = true
		t.store.mu.Unlock()
		return err
	}
	t.store.state = t.state
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
