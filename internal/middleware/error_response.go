package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/visitdesk/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteStoreErrorResponse はデータストアのエラーを連結メッセージのまま返す。
// 一意制約違反は409、それ以外は500とする。
func WriteStoreErrorResponse(w http.ResponseWriter, storeErr *model.StoreError) {
	status := http.StatusInternalServerError
	code := model.ErrCodeStoreError
	if storeErr.IsUniqueViolation() {
		status = http.StatusConflict
		code = model.ErrCodeDuplicate
	}
	WriteErrorResponse(w, status, &model.APIError{
		Code:     code,
		Message:  storeErr.Error(),
		Category: "system",
		Action:   "Check the input and try again.",
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	})
}
