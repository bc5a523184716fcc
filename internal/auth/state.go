package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// StateCookieName はOAuth stateを保持するCookie名。
const StateCookieName = "oauth_state"

// ErrInvalidState はstateの署名・期限・値のいずれかが不正な場合に返る。
var ErrInvalidState = errors.New("invalid oauth state")

type statePayload struct {
	Provider string `json:"p"`
	State    string `json:"s"`
}

// StateCodec はOAuth stateとプロバイダー名を署名付きCookie値に変換する。
type StateCodec struct {
	cookie *securecookie.SecureCookie
	maxAge time.Duration
}

// NewStateCodec はsecretで署名するStateCodecを生成する。
func NewStateCodec(secret []byte, maxAge time.Duration) *StateCodec {
	sc := securecookie.New(secret, nil)
	sc.MaxAge(int(maxAge.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &StateCodec{cookie: sc, maxAge: maxAge}
}

// MaxAge はCookieの有効期間を返す。
func (c *StateCodec) MaxAge() time.Duration {
	return c.maxAge
}

// Issue は新しいstateと、それを保持する署名済みCookie値を返す。
func (c *StateCodec) Issue(provider model.Provider) (state, cookieValue string, err error) {
	nonce := securecookie.GenerateRandomKey(16)
	if nonce == nil {
		return "", "", errors.New("failed to generate oauth state")
	}
	state = hex.EncodeToString(nonce)

	cookieValue, err = c.cookie.Encode(StateCookieName, statePayload{Provider: string(provider), State: state})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode oauth state: %w", err)
	}
	return state, cookieValue, nil
}

// Verify はCookie値を検証し、コールバックのstateとプロバイダーが一致するかを確認する。
func (c *StateCodec) Verify(cookieValue, state string, provider model.Provider) error {
	var payload statePayload
	if err := c.cookie.Decode(StateCookieName, cookieValue, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if payload.Provider != string(provider) {
		return fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(payload.State), []byte(state)) != 1 {
		return fmt.Errorf("%w: state mismatch", ErrInvalidState)
	}
	return nil
}
