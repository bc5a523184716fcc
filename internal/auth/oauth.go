package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/spotify"

	"github.com/hitoshi/spotify-backup/internal/model"
)

const (
	defaultSpotifyAPIBaseURL = "https://api.spotify.com"
	defaultGitHubAPIBaseURL  = "https://api.github.com"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Provider はプロバイダー種別を返す。
	Provider() model.Provider
	// LoginURL はOAuth認証URLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードをトークンに交換し、外部ユーザーIDを取得する。
	Exchange(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

// ProviderConfig はOAuthプロバイダーの設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	// HTTPClient はトークン交換とプロフィール取得に使う。nilならhttp.DefaultClient。
	HTTPClient *http.Client
}

// OAuthClient はoauth2.Configとプロフィール取得APIを組み合わせたOAuthProvider実装。
type OAuthClient struct {
	name       model.Provider
	config     *oauth2.Config
	profileURL string
	httpClient *http.Client
	header     http.Header
	decodeID   func(body []byte) (string, error)
}

// NewSpotifyProvider はSpotifyのOAuthプロバイダーを生成する。
// お気に入りの曲とプライベートプレイリストの読み取り権限を要求する。
func NewSpotifyProvider(cfg ProviderConfig) *OAuthClient {
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = defaultSpotifyAPIBaseURL
	}
	return &OAuthClient{
		name:       model.ProviderSpotify,
		config:     newOAuth2Config(cfg, spotify.Endpoint, []string{"user-library-read", "playlist-read-private"}),
		profileURL: apiBase + "/v1/me",
		httpClient: cfg.HTTPClient,
		decodeID: func(body []byte) (string, error) {
			var me struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &me); err != nil {
				return "", err
			}
			return me.ID, nil
		},
	}
}

// NewGitHubProvider はGitHubのOAuthプロバイダーを生成する。
// バックアップ先リポジトリへの書き込みのためrepoスコープを要求する。
// ユーザーIDにはログイン名ではなく変更されない数値IDを使う。
func NewGitHubProvider(cfg ProviderConfig) *OAuthClient {
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = defaultGitHubAPIBaseURL
	}
	return &OAuthClient{
		name:       model.ProviderGitHub,
		config:     newOAuth2Config(cfg, github.Endpoint, []string{"repo"}),
		profileURL: apiBase + "/user",
		httpClient: cfg.HTTPClient,
		header:     http.Header{"Accept": {"application/vnd.github+json"}},
		decodeID: func(body []byte) (string, error) {
			var user struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(body, &user); err != nil {
				return "", err
			}
			if user.ID == 0 {
				return "", nil
			}
			return strconv.FormatInt(user.ID, 10), nil
		},
	}
}

func newOAuth2Config(cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

func (p *OAuthClient) Provider() model.Provider {
	return p.name
}

func (p *OAuthClient) LoginURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換し、プロフィールAPIで外部ユーザーIDを取得する。
func (p *OAuthClient) Exchange(ctx context.Context, code string) (*model.ProviderIdentity, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange %s token: %w", p.name, err)
	}

	userID, err := p.fetchUserID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s profile: %w", p.name, err)
	}

	identity := &model.ProviderIdentity{
		Provider:     p.name,
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		identity.ExpiresAt = &expiry
	}
	return identity, nil
}

func (p *OAuthClient) fetchUserID(ctx context.Context, token *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create profile request: %w", err)
	}
	for k, v := range p.header {
		req.Header[k] = v
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read profile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	userID, err := p.decodeID(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse profile response: %w", err)
	}
	if userID == "" {
		return "", fmt.Errorf("empty user id in profile response")
	}
	return userID, nil
}

// TokenSource は保存済みトークンから期限切れ時に自動リフレッシュするTokenSourceを返す。
func (p *OAuthClient) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return p.config.TokenSource(ctx, token)
}

// compile-time interface check
var _ OAuthProvider = (*OAuthClient)(nil)
