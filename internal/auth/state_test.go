package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

func TestStateCodec_IssueAndVerify(t *testing.T) {
	codec := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)

	state, cookie, err := codec.Issue(model.ProviderSpotify)
	if err != nil {
		t.Fatalf("Issue error = %v", err)
	}
	if len(state) != 32 {
		t.Errorf("state length = %d, want 32", len(state))
	}
	if err := codec.Verify(cookie, state, model.ProviderSpotify); err != nil {
		t.Errorf("Verify error = %v", err)
	}
}

func TestStateCodec_Verify_Rejects(t *testing.T) {
	codec := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)
	state, cookie, err := codec.Issue(model.ProviderGitHub)
	if err != nil {
		t.Fatalf("Issue error = %v", err)
	}
	other := NewStateCodec([]byte("ffffffffffffffffffffffffffffffff"), 10*time.Minute)

	tests := []struct {
		name     string
		codec    *StateCodec
		cookie   string
		state    string
		provider model.Provider
	}{
		{"state不一致", codec, cookie, "deadbeef", model.ProviderGitHub},
		{"state空", codec, cookie, "", model.ProviderGitHub},
		{"プロバイダー不一致", codec, cookie, state, model.ProviderSpotify},
		{"改ざんされたCookie", codec, cookie + "x", state, model.ProviderGitHub},
		{"別の鍵で署名", other, cookie, state, model.ProviderGitHub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.codec.Verify(tt.cookie, tt.state, tt.provider)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestStateCodec_IssueIsRandom(t *testing.T) {
	codec := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	a, _, _ := codec.Issue(model.ProviderSpotify)
	b, _, _ := codec.Issue(model.ProviderSpotify)
	if a == b {
		t.Error("stateが重複した")
	}
}
