// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/visitdesk/internal/middleware"
	"github.com/hitoshi/visitdesk/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。CSV本文を含む送信要求を考慮する。
const maxJSONBodyBytes = 10 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードし、validateタグで検証する。
// 失敗した場合は400を書き込み false を返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("Request body must be valid JSON."))
		return false
	}
	if err := validateStruct(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return false
	}
	return true
}

// pathUUID はURLパラメータ {id} を返す。UUID形式でなければ存在しないものとして
// notFound のエラーを書き込み、falseを返す。
func pathUUID(w http.ResponseWriter, r *http.Request, notFound func(id string) *model.APIError) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validate.Var(id, "required,uuid"); err != nil {
		handleServiceError(w, notFound(id))
		return "", false
	}
	return id, true
}

// validateStruct はvalidatorのエラーを利用者向けの1行メッセージにまとめる。
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "numeric":
		return field + " must contain digits only"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date in %s format", field, "YYYY-MM-DD")
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// データストアのエラーは連結メッセージをそのまま返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var storeErr *model.StoreError
	if errors.As(err, &storeErr) {
		slog.Error("store error", slog.String("error", err.Error()))
		middleware.WriteStoreErrorResponse(w, storeErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodePinTooShort,
		model.ErrCodeNameRequired,
		model.ErrCodeBadgeNumberRequired,
		model.ErrCodeInvalidStatusFilter,
		model.ErrCodeEmployeeFieldsRequired,
		model.ErrCodeUnsupportedFileFormat,
		model.ErrCodeInvalidDateRange,
		model.ErrCodeCSVContentRequired,
		model.ErrCodeRecipientRequired,
		model.ErrCodeInvalidFormView:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials, model.ErrCodeInvalidPin:
		return http.StatusUnauthorized
	case model.ErrCodeBadgeNotFound, model.ErrCodeVisitorNotFound, model.ErrCodeEmployeeNotFound,
		model.ErrCodeNoVisitorData:
		return http.StatusNotFound
	case model.ErrCodeBadgeUnavailable, model.ErrCodeBadgeNotAssigned, model.ErrCodeVisitorCheckedOut,
		model.ErrCodeSubmissionInFlight, model.ErrCodeDuplicate, model.ErrCodeKioskLocked:
		return http.StatusConflict
	case model.ErrCodeConfirmationRequired:
		return http.StatusPreconditionRequired
	case model.ErrCodeSyncFailed:
		return http.StatusBadGateway
	case model.ErrCodeDirectoryNotConfigured, model.ErrCodeKioskCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
