// Package backup はお気に入りの曲をCSVに変換し、GitHubリポジトリへコミットする処理を提供する。
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// TokenRefresher は保存済みトークンから自動リフレッシュするTokenSourceを生成する。
// auth.OAuthClientが実装する。
type TokenRefresher interface {
	TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource
}

// TrackSource はお気に入りの曲を取得する。
type TrackSource interface {
	SavedTracks(ctx context.Context, ts oauth2.TokenSource) ([]model.Track, error)
}

// RepositoryWriter はバックアップ先リポジトリへの書き込みを行う。
type RepositoryWriter interface {
	CurrentLogin(ctx context.Context, ts oauth2.TokenSource) (string, error)
	EnsureRepository(ctx context.Context, ts oauth2.TokenSource, owner, name string) (bool, error)
	GetFileSHA(ctx context.Context, ts oauth2.TokenSource, owner, repo, path string) (string, error)
	PutFile(ctx context.Context, ts oauth2.TokenSource, owner, repo, path, message string, content []byte, currentSHA string) (string, error)
}

// TokenStore はリフレッシュされたトークンを保存する。
type TokenStore interface {
	UpdateStreamingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
	UpdateHostingToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
}

// Outcome は1アカウント分のバックアップ結果。
type Outcome struct {
	// SHA はバックアップファイルのblob SHA。
	SHA string
	// Changed は新しいコミットを作成した場合にtrue。
	Changed bool
	// TrackCount はCSVに書き出した曲数。
	TrackCount int
}

// RunnerConfig はバックアップ先の設定。
type RunnerConfig struct {
	RepoName string
	FilePath string
}

// Runner は1アカウント分のバックアップを実行する。
type Runner struct {
	streaming TokenRefresher
	hosting   TokenRefresher
	tracks    TrackSource
	repo      RepositoryWriter
	tokens    TokenStore
	logger    *slog.Logger
	config    RunnerConfig
	now       func() time.Time
}

// NewRunner はRunnerの新しいインスタンスを生成する。
// streamingとhostingはそれぞれSpotifyとGitHubのトークンをリフレッシュする。
func NewRunner(
	streaming TokenRefresher,
	hosting TokenRefresher,
	tracks TrackSource,
	repo RepositoryWriter,
	tokens TokenStore,
	logger *slog.Logger,
	config RunnerConfig,
) *Runner {
	if config.RepoName == "" {
		config.RepoName = "spotify-backup"
	}
	if config.FilePath == "" {
		config.FilePath = "liked_songs.csv"
	}
	return &Runner{
		streaming: streaming,
		hosting:   hosting,
		tracks:    tracks,
		repo:      repo,
		tokens:    tokens,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Run はお気に入りの曲を取得してCSVを生成し、前回から内容が変わっていればコミットする。
// Spotifyトークンがリフレッシュされた場合はコミットの成否に関わらず保存する。
func (r *Runner) Run(ctx context.Context, target *model.BackupTarget) (*Outcome, error) {
	streamingToken, err := r.freshToken(ctx, r.streaming, &target.Streaming, r.tokens.UpdateStreamingToken)
	if err != nil {
		return nil, fmt.Errorf("Spotifyトークンの取得に失敗しました: %w", err)
	}

	tracks, err := r.tracks.SavedTracks(ctx, oauth2.StaticTokenSource(streamingToken))
	if err != nil {
		return nil, fmt.Errorf("お気に入りの曲の取得に失敗しました: %w", err)
	}

	content, err := RenderCSV(tracks)
	if err != nil {
		return nil, err
	}
	sha := GitBlobSHA(content)
	outcome := &Outcome{SHA: sha, TrackCount: len(tracks)}

	if sha == target.LastSHA {
		r.logger.Debug("お気に入りの曲に変更はありません",
			slog.String("account_id", target.AccountID),
			slog.Int("track_count", len(tracks)),
		)
		return outcome, nil
	}

	hostingToken, err := r.freshToken(ctx, r.hosting, &target.Hosting, r.tokens.UpdateHostingToken)
	if err != nil {
		return nil, fmt.Errorf("GitHubトークンの取得に失敗しました: %w", err)
	}
	hostingTS := oauth2.StaticTokenSource(hostingToken)

	owner, err := r.repo.CurrentLogin(ctx, hostingTS)
	if err != nil {
		return nil, err
	}
	if _, err := r.repo.EnsureRepository(ctx, hostingTS, owner, r.config.RepoName); err != nil {
		return nil, err
	}

	remoteSHA, err := r.repo.GetFileSHA(ctx, hostingTS, owner, r.config.RepoName, r.config.FilePath)
	if err != nil {
		return nil, err
	}
	if remoteSHA == sha {
		// 前回の状態更新に失敗した場合など、リモートは既に最新
		return outcome, nil
	}

	message := "Song update for " + r.now().UTC().Format("2006-01-02")
	newSHA, err := r.repo.PutFile(ctx, hostingTS, owner, r.config.RepoName, r.config.FilePath, message, content, remoteSHA)
	if err != nil {
		return nil, err
	}
	if newSHA != "" && newSHA != sha {
		r.logger.Warn("コミット後のblob SHAが計算値と一致しません",
			slog.String("account_id", target.AccountID),
			slog.String("expected", sha),
			slog.String("actual", newSHA),
		)
		outcome.SHA = newSHA
	}

	outcome.Changed = true
	r.logger.Info("お気に入りの曲をコミットしました",
		slog.String("account_id", target.AccountID),
		slog.String("repo", owner+"/"+r.config.RepoName),
		slog.Int("track_count", len(tracks)),
	)
	return outcome, nil
}

// tokenSaver はリフレッシュ後のトークンを保存する。
type tokenSaver func(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error

// freshToken は有効なアクセストークンを返す。
// 期限切れならリフレッシュし、新しいトークンをsaveで保存してauthにも反映する。
// 有効期限のないトークンはそのまま使う。
func (r *Runner) freshToken(ctx context.Context, refresher TokenRefresher, auth *model.Authentication, save tokenSaver) (*oauth2.Token, error) {
	stored := &oauth2.Token{
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		TokenType:    "Bearer",
	}
	if auth.ExpiresAt != nil {
		stored.Expiry = *auth.ExpiresAt
	}

	token, err := refresher.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken == stored.AccessToken {
		return token, nil
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}
	refreshToken := token.RefreshToken
	if refreshToken == stored.RefreshToken {
		refreshToken = ""
	}
	if err := save(ctx, auth.UserID, token.AccessToken, refreshToken, expiresAt); err != nil {
		return nil, err
	}

	auth.AccessToken = token.AccessToken
	auth.ExpiresAt = expiresAt
	if refreshToken != "" {
		auth.RefreshToken = refreshToken
	}
	r.logger.Debug("トークンをリフレッシュしました",
		slog.String("provider", string(auth.Provider)),
		slog.String("user_id", auth.UserID),
	)
	return token, nil
}
