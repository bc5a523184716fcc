package handler

import (
	"errors"
	"net/http"

	"github.com/hitoshi/spotify-backup/internal/middleware"
	"github.com/hitoshi/spotify-backup/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// ReconcileErrorは種別ごとに、APIErrorはコードごとに変換する。それ以外は内部エラー。
// ログはサービス層で出力済みのため、ここでは出力しない。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var recErr *model.ReconcileError
	if errors.As(err, &recErr) {
		status, apiErr := mapErrorKind(recErr)
		writeAPIErrorResponse(w, status, apiErr)
		return
	}

	middleware.WriteInternalServerError(w)
}

// mapErrorKind はErrorKindをHTTPステータスとユーザー向けエラーに変換する。
func mapErrorKind(e *model.ReconcileError) (int, *model.APIError) {
	switch e.Kind {
	case model.KindConflict:
		return http.StatusConflict, model.NewIdentityClaimedError(e.Provider)
	case model.KindUpstream:
		return http.StatusBadGateway, model.NewProviderFailedError(string(e.Provider))
	case model.KindNotFound:
		return http.StatusUnauthorized, model.NewSessionNotFoundError()
	case model.KindInternal:
		return http.StatusInternalServerError, model.NewInternalError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeIdentityClaimed:
		return http.StatusConflict
	case model.ErrCodeProviderFailed:
		return http.StatusBadGateway
	case model.ErrCodeSessionNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeUnknownProvider:
		return http.StatusNotFound
	case model.ErrCodeInvalidState, model.ErrCodeInvalidDecree:
		return http.StatusBadRequest
	case model.ErrCodeAccountIncomplete:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
