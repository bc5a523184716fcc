// Package spotify はSpotify Web APIから「お気に入りの曲」を取得するクライアントを提供する。
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/spotify-backup/internal/model"
	"github.com/hitoshi/spotify-backup/internal/security"
)

const (
	// defaultBaseURL はSpotify Web APIのベースURL。
	defaultBaseURL = "https://api.spotify.com"
	// pageSize は1リクエストあたりの取得件数（APIの上限）。
	pageSize = 50
	// maxResponseSize は1ページのレスポンスボディの上限。
	maxResponseSize = 5 << 20
)

// StatusRecorder は外部APIの応答ステータスを記録する。
type StatusRecorder interface {
	RecordProviderStatus(provider string, statusCode int)
}

// Client はSpotify Web APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   StatusRecorder
	baseURL    string // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTransportがトークン付与の下位トランスポートとして使われる。
// recorderはnilでもよい。
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

type savedTracksPage struct {
	Items []struct {
		AddedAt time.Time `json:"added_at"`
		Track   *struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Album struct {
				Name        string `json:"name"`
				ReleaseDate string `json:"release_date"`
			} `json:"album"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
	Next  *string `json:"next"`
	Total int     `json:"total"`
}

// SavedTracks はユーザーのお気に入りの曲を全件取得する。
// /v1/me/tracks をnextが空になるまでページングし、APIが返した順（追加日時の新しい順）で返す。
// IDを持たないローカルトラックは除外する。
func (c *Client) SavedTracks(ctx context.Context, ts oauth2.TokenSource) ([]model.Track, error) {
	client := c.authorized(ts)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", "0")
	next := c.baseURL + "/v1/me/tracks?" + q.Encode()

	var tracks []model.Track
	for next != "" {
		page, err := c.fetchPage(ctx, client, next)
		if err != nil {
			return nil, err
		}
		if tracks == nil && page.Total > 0 {
			tracks = make([]model.Track, 0, page.Total)
		}

		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == "" {
				continue
			}
			artists := make([]string, 0, len(item.Track.Artists))
			for _, a := range item.Track.Artists {
				artists = append(artists, a.Name)
			}
			tracks = append(tracks, model.Track{
				ID:          item.Track.ID,
				Name:        item.Track.Name,
				Album:       item.Track.Album.Name,
				Artists:     artists,
				ReleaseDate: item.Track.Album.ReleaseDate,
				AddedAt:     item.AddedAt,
			})
		}

		next = ""
		if page.Next != nil && *page.Next != "" {
			// トークン付きで辿るため、APIと同じオリジン以外は拒否する
			if err := security.CheckSameOrigin(c.baseURL, *page.Next); err != nil {
				return nil, fmt.Errorf("不正なページングURLです: %w", err)
			}
			next = *page.Next
		}
	}

	c.logger.Debug("お気に入りの曲を取得しました", slog.Int("track_count", len(tracks)))
	return tracks, nil
}

func (c *Client) fetchPage(ctx context.Context, client *http.Client, pageURL string) (*savedTracksPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Spotify APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordProviderStatus(string(model.ProviderSpotify), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Spotify APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &model.ProviderHTTPError{
			Provider:   model.ProviderSpotify,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	var page savedTracksPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &page, nil
}

// authorized はtsのトークンを付与するHTTPクライアントを返す。
func (c *Client) authorized(ts oauth2.TokenSource) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.httpClient.Transport},
		Timeout:   c.httpClient.Timeout,
	}
}

// errorMessage はSpotifyのエラーレスポンス {"error":{"status":..,"message":..}} からメッセージを取り出す。
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Error.Message
}
