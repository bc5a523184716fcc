// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/spotify-backup/internal/auth"
	"github.com/hitoshi/spotify-backup/internal/middleware"
	"github.com/hitoshi/spotify-backup/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(provider model.Provider, state string) (string, error)
	HandleCallback(ctx context.Context, provider model.Provider, sessionID string, params auth.CallbackParams) (*model.Session, error)
}

// LogoutService はセッション破棄を行うサービスインターフェース。
type LogoutService interface {
	Logout(ctx context.Context, sessionID string) error
}

// StateIssuer はOAuth stateの発行と検証を行う。
type StateIssuer interface {
	Issue(provider model.Provider) (state, cookieValue string, err error)
	Verify(cookieValue, state string, provider model.Provider) error
	MaxAge() time.Duration
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	logout  LogoutService
	state   StateIssuer
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, logout LogoutService, state StateIssuer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		logout:  logout,
		state:   state,
		config:  config,
	}
}

// Login はOAuthフローを開始する。
// GET /login/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider, ok := model.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		handleServiceError(w, model.NewUnknownProviderError(chi.URLParam(r, "provider")))
		return
	}

	state, cookieValue, err := h.state.Issue(provider)
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateを署名付きCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   int(h.state.MaxAge().Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusFound)
}

// Callback はOAuthコールバックを処理し、アカウントに紐付いたセッションCookieを発行する。
// GET /login/{provider}/callback?code=xxx&state=yyy
// GET /login/{provider}/callback?error=xxx&error_description=yyy&state=zzz
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := model.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		handleServiceError(w, model.NewUnknownProviderError(chi.URLParam(r, "provider")))
		return
	}

	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	// 1. stateの検証（CSRF対策）
	stateCookie, err := r.Cookie(auth.StateCookieName)
	if err != nil {
		slog.Warn("oauth state cookie missing", slog.String("provider", string(provider)))
		handleServiceError(w, model.NewInvalidStateError())
		return
	}
	if err := h.state.Verify(stateCookie.Value, params.State, provider); err != nil {
		slog.Warn("oauth state mismatch",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, model.NewInvalidStateError())
		return
	}
	h.clearCookie(w, auth.StateCookieName, "")

	// 2. 外部IDをアカウントに照合
	// アイドル期限切れのセッションはセッションミドルウェアで除外済み
	sessionID := middleware.SessionIDFromContext(r.Context())
	session, err := h.service.HandleCallback(r.Context(), provider, sessionID, params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 3. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// Logout はセッションを破棄する。セッションがなくても成功として扱う。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
			sessionID = cookie.Value
		}
	}

	if err := h.logout.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearCookie(w, middleware.SessionCookieName, h.config.CookieDomain)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
