package account

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// --- テストヘルパー ---

type mockCollector struct {
	mu      sync.Mutex
	logins  map[string]int
	deleted map[string]int
}

func newMockCollector() *mockCollector {
	return &mockCollector{logins: map[string]int{}, deleted: map[string]int{}}
}

func (m *mockCollector) RecordLogin(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[provider+"/"+outcome]++
}
func (m *mockCollector) RecordAccountDeleted(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[reason]++
}
func (m *mockCollector) RecordSessionsPruned(int64)        {}
func (m *mockCollector) RecordBackupSuccess(bool)          {}
func (m *mockCollector) RecordBackupFailure(string)        {}
func (m *mockCollector) RecordProviderStatus(string, int)  {}
func (m *mockCollector) RecordBackupLatency(time.Duration) {}
func (m *mockCollector) RecordTracksExported(int)          {}

func newTestService(store *fakeStore) *Service {
	return NewService(store, store, nil)
}

func spotifyIdentity(userID string) *model.ProviderIdentity {
	return &model.ProviderIdentity{Provider: model.ProviderSpotify, UserID: userID, AccessToken: "sp-token-" + userID, RefreshToken: "sp-refresh"}
}

func githubIdentity(userID string) *model.ProviderIdentity {
	return &model.ProviderIdentity{Provider: model.ProviderGitHub, UserID: userID, AccessToken: "gh-token-" + userID}
}

func mustLogin(t *testing.T, svc *Service, sessionID string, identity *model.ProviderIdentity) *model.Session {
	t.Helper()
	session, err := svc.LoginViaProvider(context.Background(), sessionID, identity)
	if err != nil {
		t.Fatalf("LoginViaProvider(%s, %s) error = %v", sessionID, identity.UserID, err)
	}
	if session == nil || session.ID == "" || session.AccountID == "" {
		t.Fatalf("LoginViaProvider returned invalid session: %+v", session)
	}
	return session
}

// assertSessionsReferenceAccounts は全セッションが既存アカウントを参照していることを検証する。
func assertSessionsReferenceAccounts(t *testing.T, store *fakeStore) {
	t.Helper()
	state := store.snapshot()
	for id, session := range state.sessions {
		if _, ok := state.accounts[session.AccountID]; !ok {
			t.Errorf("セッション %s が存在しないアカウント %s を参照している", id, session.AccountID)
		}
	}
}

// captureLogs はテスト中のデフォルトロガー出力をバッファに差し替える。
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// --- LoginViaProvider ---

// TestLoginViaProvider_LinkScenario は新規登録→2つ目のプロバイダー連携→ログアウト→別ブラウザでの再ログインの一連の流れを検証する。
func TestLoginViaProvider_LinkScenario(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	s1 := mustLogin(t, svc, "", spotifyIdentity("alice"))
	accountA := s1.AccountID

	a, _ := svc.CurrentAccount(ctx, accountA)
	if a.StreamingUserID != "alice" || a.HostingUserID != "" {
		t.Fatalf("初回ログイン後のアカウント = %+v", a)
	}
	if a.IsComplete() {
		t.Error("Spotifyのみ連携したアカウントが完成扱いになっている")
	}

	s1b := mustLogin(t, svc, s1.ID, githubIdentity("alice-gh"))
	if s1b.AccountID != accountA {
		t.Fatalf("GitHub連携後のアカウントID = %s, want %s", s1b.AccountID, accountA)
	}
	if s1b.ID != s1.ID {
		t.Errorf("同じアカウントへの連携でセッションが再発行された: %s -> %s", s1.ID, s1b.ID)
	}
	a, _ = svc.CurrentAccount(ctx, accountA)
	if a.HostingUserID != "alice-gh" || !a.IsComplete() {
		t.Fatalf("GitHub連携後のアカウント = %+v", a)
	}
	if a.CompletedAt == nil {
		t.Error("完成時刻が記録されていない")
	}

	if err := svc.Logout(ctx, s1.ID); err != nil {
		t.Fatalf("Logout error = %v", err)
	}
	if _, err := svc.CurrentAccount(ctx, accountA); err != nil {
		t.Fatalf("完成済みアカウントがログアウトで削除された: %v", err)
	}

	s2 := mustLogin(t, svc, "", spotifyIdentity("alice"))
	if s2.AccountID != accountA {
		t.Errorf("再ログイン時のアカウントID = %s, want %s", s2.AccountID, accountA)
	}
	if s2.ID == s1.ID {
		t.Error("新しいブラウザに古いセッションIDが返された")
	}
	if n := len(store.snapshot().accounts); n != 1 {
		t.Errorf("アカウント数 = %d, want 1", n)
	}
	assertSessionsReferenceAccounts(t, store)
}

// TestLoginViaProvider_IdempotentUpsert は同一IDでの連続ログインが同じアカウントを返すことを検証する。
func TestLoginViaProvider_IdempotentUpsert(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	first := mustLogin(t, svc, "", spotifyIdentity("bob"))
	createdAt := store.snapshot().auths[model.ProviderSpotify]["bob"].CreatedAt

	again := spotifyIdentity("bob")
	again.AccessToken = "rotated"
	second := mustLogin(t, svc, "", again)

	if first.AccountID != second.AccountID {
		t.Errorf("アカウントが重複作成された: %s, %s", first.AccountID, second.AccountID)
	}
	state := store.snapshot()
	if n := len(state.accounts); n != 1 {
		t.Errorf("アカウント数 = %d, want 1", n)
	}
	row := state.auths[model.ProviderSpotify]["bob"]
	if row.AccessToken != "rotated" {
		t.Errorf("access_token = %q, want rotated", row.AccessToken)
	}
	if !row.CreatedAt.Equal(createdAt) {
		t.Error("再ログインで認証情報の作成時刻がリセットされた")
	}
}

// TestLoginViaProvider_ConcurrentFirstLogin は同一の新規IDでの同時ログインでアカウントが1つしか作られないことを検証する。
func TestLoginViaProvider_ConcurrentFirstLogin(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan *model.Session, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := svc.LoginViaProvider(context.Background(), "", githubIdentity("racer"))
			if err != nil {
				errs <- err
				return
			}
			results <- session
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		if kind := model.KindOf(err); kind != model.KindConflict {
			t.Errorf("敗者のエラー種別 = %s, want conflict (err=%v)", kind, err)
		}
	}

	accountIDs := map[string]bool{}
	for session := range results {
		accountIDs[session.AccountID] = true
	}
	if len(accountIDs) > 1 {
		t.Errorf("同一IDに対して %d 個のアカウントが返された", len(accountIDs))
	}
	if n := len(store.snapshot().accounts); n != 1 {
		t.Errorf("アカウント数 = %d, want 1", n)
	}
	assertSessionsReferenceAccounts(t, store)
}

// TestLoginViaProvider_UniqueViolationIsConflict は一意制約違反が競合として区別されることを検証する。
func TestLoginViaProvider_UniqueViolationIsConflict(t *testing.T) {
	store := newFakeStore()
	collector := newMockCollector()
	svc := NewService(store, store, collector)
	store.inject("LinkIdentity", &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := svc.LoginViaProvider(context.Background(), "", spotifyIdentity("carol"))
	if err == nil {
		t.Fatal("エラーが返されなかった")
	}

	var re *model.ReconcileError
	if !errors.As(err, &re) {
		t.Fatalf("ReconcileErrorではない: %T", err)
	}
	if re.Kind != model.KindConflict {
		t.Errorf("Kind = %s, want conflict", re.Kind)
	}
	if re.Provider != model.ProviderSpotify || re.ProviderUserID != "carol" {
		t.Errorf("エラーに識別子が含まれていない: %+v", re)
	}
	if collector.logins["spotify/conflict"] != 1 {
		t.Errorf("conflictのメトリクスが記録されていない: %v", collector.logins)
	}

	state := store.snapshot()
	if len(state.accounts) != 0 || len(state.auths[model.ProviderSpotify]) != 0 {
		t.Error("失敗したトランザクションの変更が残っている")
	}
}

// TestLoginViaProvider_FailureRollsBack は途中失敗で認証情報もアカウントも残らないことを検証する。
func TestLoginViaProvider_FailureRollsBack(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	logs := captureLogs(t)
	store.inject("CreateSession", errors.New("connection reset by peer"))

	_, err := svc.LoginViaProvider(context.Background(), "", spotifyIdentity("dave"))
	if kind := model.KindOf(err); kind != model.KindInternal {
		t.Fatalf("Kind = %s, want internal", kind)
	}

	state := store.snapshot()
	if len(state.accounts) != 0 || len(state.auths[model.ProviderSpotify]) != 0 || len(state.sessions) != 0 {
		t.Error("ロールバックされていない")
	}
	out := logs.String()
	if !strings.Contains(out, `"op":"login_via_provider"`) || !strings.Contains(out, `"provider_user_id":"dave"`) {
		t.Errorf("失敗ログに操作名と識別子が含まれていない: %s", out)
	}
}

// TestLoginViaProvider_InvalidIdentityIsUpstream はプロバイダーから不正な値が返った場合を検証する。
func TestLoginViaProvider_InvalidIdentityIsUpstream(t *testing.T) {
	svc := newTestService(newFakeStore())

	tests := []struct {
		name     string
		identity *model.ProviderIdentity
	}{
		{"nil", nil},
		{"ユーザーID空", &model.ProviderIdentity{Provider: model.ProviderSpotify, AccessToken: "t"}},
		{"トークン空", &model.ProviderIdentity{Provider: model.ProviderGitHub, UserID: "x"}},
		{"未対応プロバイダー", &model.ProviderIdentity{Provider: "gitlab", UserID: "x", AccessToken: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.LoginViaProvider(context.Background(), "", tt.identity)
			if kind := model.KindOf(err); kind != model.KindUpstream {
				t.Errorf("Kind = %s, want upstream (err=%v)", kind, err)
			}
		})
	}
}

// TestLoginViaProvider_UnknownSessionIsAnonymous は存在しないセッションIDを匿名として扱うことを検証する。
func TestLoginViaProvider_UnknownSessionIsAnonymous(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	session := mustLogin(t, svc, "no-such-session", spotifyIdentity("erin"))
	if session.ID == "no-such-session" {
		t.Error("存在しないセッションIDが再利用された")
	}
	if n := len(store.snapshot().accounts); n != 1 {
		t.Errorf("アカウント数 = %d, want 1", n)
	}
}

// TestLoginViaProvider_ReplacesIdentityOnSessionAccount は同じプロバイダーの別IDでログインすると差し替わることを検証する。
func TestLoginViaProvider_ReplacesIdentityOnSessionAccount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	s1 := mustLogin(t, svc, "", spotifyIdentity("old-sp"))
	s2 := mustLogin(t, svc, s1.ID, spotifyIdentity("new-sp"))

	if s2.AccountID != s1.AccountID || s2.ID != s1.ID {
		t.Fatalf("差し替えでアカウントかセッションが変わった: %+v -> %+v", s1, s2)
	}
	a, _ := svc.CurrentAccount(ctx, s1.AccountID)
	if a.StreamingUserID != "new-sp" {
		t.Errorf("StreamingUserID = %q, want new-sp", a.StreamingUserID)
	}
	if owner := store.snapshot().auths[model.ProviderSpotify]["old-sp"].AccountID; owner != "" {
		t.Errorf("旧IDがまだ紐付いている: %s", owner)
	}
}

// TestLoginViaProvider_ClaimedIdentitySwitchesAccount は別アカウントに紐付くIDでログインした場合、
// そのアカウントに切り替わり、放棄された未完成アカウントが削除されることを検証する。
func TestLoginViaProvider_ClaimedIdentitySwitchesAccount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	// 完成済みアカウントB
	sb := mustLogin(t, svc, "", spotifyIdentity("frank"))
	mustLogin(t, svc, sb.ID, githubIdentity("frank-gh"))
	if err := svc.Logout(ctx, sb.ID); err != nil {
		t.Fatalf("Logout error = %v", err)
	}

	// 別ブラウザで別のSpotify IDから始めた未完成アカウントA
	sa := mustLogin(t, svc, "", spotifyIdentity("frank-alt"))

	// AのセッションのままBのGitHub IDでログイン
	switched := mustLogin(t, svc, sa.ID, githubIdentity("frank-gh"))
	if switched.AccountID != sb.AccountID {
		t.Fatalf("切り替え先 = %s, want %s", switched.AccountID, sb.AccountID)
	}
	if switched.ID == sa.ID {
		t.Error("別アカウントへの切り替えで旧セッションIDが再利用された")
	}

	state := store.snapshot()
	if _, ok := state.sessions[sa.ID]; ok {
		t.Error("旧セッションが削除されていない")
	}
	if _, ok := state.accounts[sa.AccountID]; ok {
		t.Error("放棄された未完成アカウントが残っている")
	}
	if _, ok := state.auths[model.ProviderSpotify]["frank-alt"]; ok {
		t.Error("放棄されたアカウントの認証情報が残っている")
	}
	assertSessionsReferenceAccounts(t, store)
}

// TestLoginViaProvider_SwitchKeepsCompleteAccount は切り替え元が完成済みなら残すことを検証する。
func TestLoginViaProvider_SwitchKeepsCompleteAccount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	s1 := mustLogin(t, svc, "", spotifyIdentity("gina"))
	mustLogin(t, svc, s1.ID, githubIdentity("gina-gh"))

	other := mustLogin(t, svc, "", spotifyIdentity("henry"))
	mustLogin(t, svc, other.ID, githubIdentity("henry-gh"))

	switched := mustLogin(t, svc, s1.ID, spotifyIdentity("henry"))
	if switched.AccountID != other.AccountID {
		t.Fatalf("切り替え先 = %s, want %s", switched.AccountID, other.AccountID)
	}
	if _, ok := store.snapshot().accounts[s1.AccountID]; !ok {
		t.Error("完成済みアカウントが切り替えで削除された")
	}
}

// --- Logout ---

// TestLogout_OrphanCleanup は未完成アカウントは削除され、完成済みアカウントは残ることを検証する。
func TestLogout_OrphanCleanup(t *testing.T) {
	t.Run("未完成アカウントは削除される", func(t *testing.T) {
		store := newFakeStore()
		collector := newMockCollector()
		svc := NewService(store, store, collector)

		s := mustLogin(t, svc, "", spotifyIdentity("ivy"))
		if err := svc.Logout(context.Background(), s.ID); err != nil {
			t.Fatalf("Logout error = %v", err)
		}

		state := store.snapshot()
		if len(state.accounts) != 0 {
			t.Error("未完成アカウントが残っている")
		}
		if len(state.auths[model.ProviderSpotify]) != 0 {
			t.Error("未完成アカウントの認証情報が残っている")
		}
		if collector.deleted["abandoned"] != 1 {
			t.Errorf("削除メトリクス = %v", collector.deleted)
		}
	})

	t.Run("完成済みアカウントは残る", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)

		s := mustLogin(t, svc, "", spotifyIdentity("jack"))
		mustLogin(t, svc, s.ID, githubIdentity("jack-gh"))
		if err := svc.Logout(context.Background(), s.ID); err != nil {
			t.Fatalf("Logout error = %v", err)
		}

		state := store.snapshot()
		if _, ok := state.accounts[s.AccountID]; !ok {
			t.Error("完成済みアカウントが削除された")
		}
		if len(state.sessions) != 0 {
			t.Error("セッションが削除されていない")
		}
	})

	t.Run("他のセッションが残っていれば未完成でも残る", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)

		s1 := mustLogin(t, svc, "", spotifyIdentity("kate"))
		s2 := mustLogin(t, svc, "", spotifyIdentity("kate"))
		if err := svc.Logout(context.Background(), s1.ID); err != nil {
			t.Fatalf("Logout error = %v", err)
		}
		if _, ok := store.snapshot().accounts[s2.AccountID]; !ok {
			t.Error("セッションが残っているアカウントが削除された")
		}
	})
}

// TestLogout_Idempotent は存在しないセッションのログアウトがエラーにならないことを検証する。
func TestLogout_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if err := svc.Logout(ctx, ""); err != nil {
		t.Errorf("空セッションIDでエラー: %v", err)
	}
	if err := svc.Logout(ctx, "missing"); err != nil {
		t.Errorf("存在しないセッションでエラー: %v", err)
	}

	s := mustLogin(t, svc, "", spotifyIdentity("leo"))
	mustLogin(t, svc, s.ID, githubIdentity("leo-gh"))
	if err := svc.Logout(ctx, s.ID); err != nil {
		t.Fatalf("1回目のLogout error = %v", err)
	}
	if err := svc.Logout(ctx, s.ID); err != nil {
		t.Errorf("2回目のLogout error = %v", err)
	}
}

// TestCompletionMonotonicity は完成済みアカウントが通常のログイン・ログアウトで紐付けを失わないことを検証する。
func TestCompletionMonotonicity(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	s := mustLogin(t, svc, "", spotifyIdentity("mia"))
	mustLogin(t, svc, s.ID, githubIdentity("mia-gh"))
	accountID := s.AccountID

	steps := []func(current string) string{
		func(cur string) string { return mustLogin(t, svc, cur, spotifyIdentity("mia-2")).ID },
		func(cur string) string { _ = svc.Logout(ctx, cur); return "" },
		func(cur string) string { return mustLogin(t, svc, cur, githubIdentity("mia-gh")).ID },
		func(cur string) string { return mustLogin(t, svc, cur, githubIdentity("mia-gh-2")).ID },
		func(cur string) string { _ = svc.Logout(ctx, cur); return "" },
		func(cur string) string { return mustLogin(t, svc, cur, spotifyIdentity("someone-else")).ID },
		func(cur string) string { _ = svc.Logout(ctx, cur); return "" },
	}

	current := ""
	for i, step := range steps {
		current = step(current)
		a, err := svc.CurrentAccount(ctx, accountID)
		if err != nil {
			t.Fatalf("step %d: 完成済みアカウントが消えた: %v", i, err)
		}
		if !a.IsComplete() {
			t.Fatalf("step %d: 完成済みアカウントが未完成に戻った: %+v", i, a)
		}
		assertSessionsReferenceAccounts(t, store)
	}
}

// --- DeleteAccount ---

// TestDeleteAccount_RemovesSessions はアカウント削除でセッションと認証情報が消えることを検証する。
func TestDeleteAccount_RemovesSessions(t *testing.T) {
	store := newFakeStore()
	collector := newMockCollector()
	svc := NewService(store, store, collector)
	ctx := context.Background()

	s1 := mustLogin(t, svc, "", spotifyIdentity("nina"))
	mustLogin(t, svc, s1.ID, githubIdentity("nina-gh"))
	mustLogin(t, svc, "", githubIdentity("nina-gh"))

	deleted, err := svc.DeleteAccount(ctx, s1.AccountID)
	if err != nil || !deleted {
		t.Fatalf("DeleteAccount = %v, %v", deleted, err)
	}

	state := store.snapshot()
	if len(state.sessions) != 0 {
		t.Errorf("セッションが %d 件残っている", len(state.sessions))
	}
	if len(state.auths[model.ProviderSpotify])+len(state.auths[model.ProviderGitHub]) != 0 {
		t.Error("認証情報が残っている")
	}
	if collector.deleted["user"] != 1 {
		t.Errorf("削除メトリクス = %v", collector.deleted)
	}
}

// TestDeleteAccount_AlreadyGoneWarns は二重削除が警告ログのみで成功扱いになることを検証する。
func TestDeleteAccount_AlreadyGoneWarns(t *testing.T) {
	svc := newTestService(newFakeStore())
	logs := captureLogs(t)

	deleted, err := svc.DeleteAccount(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("DeleteAccount error = %v", err)
	}
	if deleted {
		t.Error("存在しないアカウントの削除がtrueを返した")
	}
	if !strings.Contains(logs.String(), `"level":"WARN"`) {
		t.Errorf("警告ログが出力されていない: %s", logs.String())
	}
}

// --- UnlinkIdentity ---

func TestUnlinkIdentity(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	s := mustLogin(t, svc, "", spotifyIdentity("oscar"))

	t.Run("未完成アカウントでは拒否される", func(t *testing.T) {
		err := svc.UnlinkIdentity(ctx, s.AccountID, model.ProviderSpotify)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAccountIncomplete {
			t.Errorf("err = %v, want ACCOUNT_INCOMPLETE", err)
		}
	})

	mustLogin(t, svc, s.ID, githubIdentity("oscar-gh"))

	t.Run("完成済みアカウントでは外せてアカウントは残る", func(t *testing.T) {
		if err := svc.UnlinkIdentity(ctx, s.AccountID, model.ProviderGitHub); err != nil {
			t.Fatalf("UnlinkIdentity error = %v", err)
		}
		a, err := svc.CurrentAccount(ctx, s.AccountID)
		if err != nil {
			t.Fatalf("CurrentAccount error = %v", err)
		}
		if a.HostingUserID != "" || a.StreamingUserID != "oscar" {
			t.Errorf("アカウント = %+v", a)
		}
	})

	t.Run("一度完成したアカウントはログアウトしても残る", func(t *testing.T) {
		if err := svc.Logout(ctx, s.ID); err != nil {
			t.Fatalf("Logout error = %v", err)
		}
		if _, err := svc.CurrentAccount(ctx, s.AccountID); err != nil {
			t.Errorf("アカウントが削除された: %v", err)
		}
	})

	t.Run("存在しないアカウントはNotFound", func(t *testing.T) {
		err := svc.UnlinkIdentity(ctx, "missing", model.ProviderGitHub)
		if kind := model.KindOf(err); kind != model.KindNotFound {
			t.Errorf("Kind = %s, want not_found", kind)
		}
	})
}

// TestCurrentAccount_NotFound は存在しないアカウントがNotFoundになることを検証する。
func TestCurrentAccount_NotFound(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.CurrentAccount(context.Background(), "missing")
	if kind := model.KindOf(err); kind != model.KindNotFound {
		t.Errorf("Kind = %s, want not_found", kind)
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := generateSessionID()
		if err != nil {
			t.Fatalf("generateSessionID error = %v", err)
		}
		if len(id) != 64 {
			t.Fatalf("len(id) = %d, want 64", len(id))
		}
		if seen[id] {
			t.Fatal("セッションIDが重複した")
		}
		seen[id] = true
	}
}
