package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/spotify-backup/internal/middleware"
	"github.com/hitoshi/spotify-backup/internal/model"
)

// DeleteDecree はアカウント削除時に入力を求める確認文言。
const DeleteDecree = "I solemnly swear that I am deleting my account"

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	CurrentAccount(ctx context.Context, accountID string) (*model.Account, error)
	UnlinkIdentity(ctx context.Context, accountID string, provider model.Provider) error
	DeleteAccount(ctx context.Context, accountID string) (bool, error)
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service      AccountServiceInterface
	cookieDomain string
	cookieSecure bool
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, cookieDomain string, cookieSecure bool) *AccountHandler {
	return &AccountHandler{
		service:      service,
		cookieDomain: cookieDomain,
		cookieSecure: cookieSecure,
	}
}

type identityResponse struct {
	Linked bool   `json:"linked"`
	UserID string `json:"user_id,omitempty"`
}

type accountResponse struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Complete    bool             `json:"complete"`
	Spotify     identityResponse `json:"spotify"`
	GitHub      identityResponse `json:"github"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
		Complete:    a.IsComplete(),
		Spotify:     identityResponse{Linked: a.StreamingUserID != "", UserID: a.StreamingUserID},
		GitHub:      identityResponse{Linked: a.HostingUserID != "", UserID: a.HostingUserID},
	}
}

// Get はログイン中のアカウントと紐付け状態を返す。
// GET /api/account
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionNotFoundError())
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAccountResponse(account))
}

// Unlink は完成済みアカウントから指定プロバイダーのIDを外す。
// POST /api/account/unlink/{provider}
func (h *AccountHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionNotFoundError())
		return
	}

	provider, ok := model.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		handleServiceError(w, model.NewUnknownProviderError(chi.URLParam(r, "provider")))
		return
	}

	if err := h.service.UnlinkIdentity(r.Context(), accountID, provider); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type deleteAccountRequest struct {
	Decree string `json:"decree"`
}

// Delete は確認文言が一致した場合にアカウントを削除する。
// 認証情報とセッションはCASCADE削除され、セッションCookieもクリアする。
// POST /api/account/delete
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionNotFoundError())
		return
	}

	decree, err := readDecree(w, r)
	if err != nil || decree != DeleteDecree {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDecreeError())
		return
	}

	// 既に削除済みの場合もセッションCookieを消して成功として扱う
	if _, err := h.service.DeleteAccount(r.Context(), accountID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// readDecree はJSONボディまたはフォームから確認文言を読み取る。
func readDecree(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req deleteAccountRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			return "", err
		}
		return req.Decree, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("decree"), nil
}
