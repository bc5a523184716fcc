// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionIDContextKey = contextKey("session_id")
	accountIDContextKey = contextKey("account_id")
	accountSinkKey      = contextKey("account_sink")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindActive(ctx context.Context, sessionID string, idleCutoff time.Time) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効なセッションがあればセッションIDとアカウントIDをコンテキストに注入する。
// ログイン前のリクエストも通すため、セッションがなくても拒否しない。
// idleTimeoutを超えて使われていないセッションは無効として扱う。
func NewSessionMiddleware(finder SessionFinder, idleTimeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := finder.FindActive(r.Context(), cookie.Value, time.Now().Add(-idleTimeout))
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithSession(r.Context(), session.ID, session.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccount はログイン済みのリクエストのみを通すミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func RequireAccount() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := AccountIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionNotFoundError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// 有効なセッションを持つリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
// セッションがない場合は空文字を返す。
func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDContextKey).(string)
	return sessionID
}

// ContextWithSession はコンテキストにセッションIDとアカウントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sessionID, accountID string) context.Context {
	if sink, ok := ctx.Value(accountSinkKey).(*string); ok {
		*sink = accountID
	}
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// withAccountIDSink はContextWithSessionで注入されたアカウントIDを外側のミドルウェアへ伝える。
func withAccountIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, accountSinkKey, sink)
}
