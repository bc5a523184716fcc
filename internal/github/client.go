// Package github はバックアップ先となるGitHubリポジトリを操作するクライアントを提供する。
// リポジトリの作成とContents APIによる単一ファイルのコミットのみを扱う。
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/spotify-backup/internal/model"
)

const (
	defaultBaseURL  = "https://api.github.com"
	maxResponseSize = 10 << 20
	apiVersion      = "2022-11-28"
)

// errNotFound はAPIが404を返したことを表す内部エラー。
var errNotFound = errors.New("not found")

// StatusRecorder は外部APIの応答ステータスを記録する。
type StatusRecorder interface {
	RecordProviderStatus(provider string, statusCode int)
}

// Client はGitHub REST APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   StatusRecorder
	baseURL    string // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。recorderはnilでもよい。
func NewClient(httpClient *http.Client, logger *slog.Logger, recorder StatusRecorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
		baseURL:    defaultBaseURL,
	}
}

// CurrentLogin はトークン所有者のログイン名を返す。
// アカウントに保存しているのは数値IDなので、リポジトリ操作の前に毎回解決する。
func (c *Client) CurrentLogin(ctx context.Context, ts oauth2.TokenSource) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, ts, http.MethodGet, "/user", nil, &user); err != nil {
		return "", fmt.Errorf("GitHubユーザーの取得に失敗しました: %w", err)
	}
	if user.Login == "" {
		return "", fmt.Errorf("GitHubユーザーのログイン名が空です")
	}
	return user.Login, nil
}

// EnsureRepository はowner/nameのリポジトリが存在しなければプライベートリポジトリとして作成する。
// 作成時はContents APIで即座にコミットできるようauto_initを指定する。
// 作成した場合はtrueを返す。
func (c *Client) EnsureRepository(ctx context.Context, ts oauth2.TokenSource, owner, name string) (bool, error) {
	err := c.do(ctx, ts, http.MethodGet, repoPath(owner, name), nil, nil)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, errNotFound) {
		return false, fmt.Errorf("リポジトリの確認に失敗しました: %w", err)
	}

	body := map[string]any{
		"name":        name,
		"description": "Spotifyのお気に入りの曲の定期バックアップ",
		"private":     true,
		"auto_init":   true,
	}
	if err := c.do(ctx, ts, http.MethodPost, "/user/repos", body, nil); err != nil {
		return false, fmt.Errorf("リポジトリの作成に失敗しました: %w", err)
	}

	c.logger.Info("バックアップ用リポジトリを作成しました",
		slog.String("owner", owner),
		slog.String("repo", name),
	)
	return true, nil
}

// GetFileSHA はファイルの現在のblob SHAを返す。ファイルが存在しない場合は空文字を返す。
func (c *Client) GetFileSHA(ctx context.Context, ts oauth2.TokenSource, owner, repo, path string) (string, error) {
	var content struct {
		SHA string `json:"sha"`
	}
	err := c.do(ctx, ts, http.MethodGet, contentsPath(owner, repo, path), nil, &content)
	if errors.Is(err, errNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ファイル情報の取得に失敗しました: %w", err)
	}
	return content.SHA, nil
}

// PutFile はファイルを作成または更新するコミットを作成し、新しいblob SHAを返す。
// 既存ファイルを更新する場合はcurrentSHAに現在のblob SHAを指定する。
func (c *Client) PutFile(ctx context.Context, ts oauth2.TokenSource, owner, repo, path, message string, content []byte, currentSHA string) (string, error) {
	body := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if currentSHA != "" {
		body["sha"] = currentSHA
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := c.do(ctx, ts, http.MethodPut, contentsPath(owner, repo, path), body, &result); err != nil {
		return "", fmt.Errorf("ファイルのコミットに失敗しました: %w", err)
	}
	return result.Content.SHA, nil
}

// do はGitHub APIを呼び出し、2xx以外をエラーとして返す。404はerrNotFoundでラップする。
func (c *Client) do(ctx context.Context, ts oauth2.TokenSource, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.httpClient.Transport},
		Timeout:   c.httpClient.Timeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GitHub APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordProviderStatus(string(model.ProviderGitHub), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, errNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("GitHub APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &model.ProviderHTTPError{
			Provider:   model.ProviderGitHub,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func contentsPath(owner, repo, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return repoPath(owner, repo) + "/contents/" + strings.Join(segments, "/")
}

// errorMessage はGitHubのエラーレスポンス {"message": ...} からメッセージを取り出す。
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Message
}
