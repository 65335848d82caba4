// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// 画面に表示するメッセージと対処方法を含む。
// キオスクの表示言語に合わせ、Message と Action は英語で保持する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, badge, visitor, directory, export, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeInvalidPin             = "INVALID_PIN"
	ErrCodePinTooShort            = "PIN_TOO_SHORT"
	ErrCodeNameRequired           = "NAME_REQUIRED"
	ErrCodeSubmissionInFlight     = "SUBMISSION_IN_FLIGHT"
	ErrCodeBadgeNumberRequired    = "BADGE_NUMBER_REQUIRED"
	ErrCodeBadgeNotFound          = "BADGE_NOT_FOUND"
	ErrCodeBadgeUnavailable       = "BADGE_UNAVAILABLE"
	ErrCodeBadgeNotAssigned       = "BADGE_NOT_ASSIGNED"
	ErrCodeConfirmationRequired   = "CONFIRMATION_REQUIRED"
	ErrCodeVisitorNotFound        = "VISITOR_NOT_FOUND"
	ErrCodeVisitorCheckedOut      = "VISITOR_ALREADY_CHECKED_OUT"
	ErrCodeInvalidStatusFilter    = "INVALID_STATUS_FILTER"
	ErrCodeEmployeeFieldsRequired = "EMPLOYEE_FIELDS_REQUIRED"
	ErrCodeEmployeeNotFound       = "EMPLOYEE_NOT_FOUND"
	ErrCodeUnsupportedFileFormat  = "UNSUPPORTED_FILE_FORMAT"
	ErrCodeSyncFailed             = "SYNC_FAILED"
	ErrCodeDirectoryNotConfigured = "DIRECTORY_NOT_CONFIGURED"
	ErrCodeInvalidDateRange       = "INVALID_DATE_RANGE"
	ErrCodeNoVisitorData          = "NO_VISITOR_DATA"
	ErrCodeCSVContentRequired     = "CSV_CONTENT_REQUIRED"
	ErrCodeRecipientRequired      = "RECIPIENT_REQUIRED"
	ErrCodeSendFailed             = "SEND_FAILED"
	ErrCodeStoreError             = "STORE_ERROR"
	ErrCodeDuplicate              = "DUPLICATE"
	ErrCodeKioskLocked            = "KIOSK_IDLE_LOCKED"
	ErrCodeKioskCapacity          = "KIOSK_CAPACITY"
	ErrCodeInvalidFormView        = "INVALID_FORM_VIEW"
)

// NewInvalidRequestError はリクエスト形式の不正を表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request and try again.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Admin sign-in required.",
		Category: "auth",
		Action:   "Sign in with your email and password or your PIN.",
	}
}

// NewInvalidCredentialsError はメールアドレス・パスワード不一致のエラーを生成する。
// どちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewInvalidPinError はPIN不一致のエラーを生成する。
func NewInvalidPinError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPin,
		Message:  "Invalid PIN.",
		Category: "auth",
		Action:   "Enter your PIN again.",
	}
}

// NewPinTooShortError はPIN形式エラーを生成する。
func NewPinTooShortError() *APIError {
	return &APIError{
		Code:     ErrCodePinTooShort,
		Message:  "PIN must be at least 4 digits.",
		Category: "validation",
		Action:   "Choose a PIN of 4 or more digits.",
	}
}

// NewNameRequiredError は来訪者名が空の場合のエラーを生成する。
func NewNameRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeNameRequired,
		Message:  "Name is required.",
		Category: "validation",
		Action:   "Enter the visitor's name.",
	}
}

// NewSubmissionInFlightError は同一キオスクからの二重送信エラーを生成する。
func NewSubmissionInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionInFlight,
		Message:  "A check-in is already being submitted.",
		Category: "visitor",
		Action:   "Wait for the current submission to finish.",
	}
}

// NewBadgeNumberRequiredError はバッジ番号が空の場合のエラーを生成する。
func NewBadgeNumberRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeBadgeNumberRequired,
		Message:  "Badge number is required.",
		Category: "validation",
		Action:   "Enter a badge number.",
	}
}

// NewBadgeNotFoundError はバッジ未検出エラーを生成する。
func NewBadgeNotFoundError(badgeID string) *APIError {
	return &APIError{
		Code:     ErrCodeBadgeNotFound,
		Message:  fmt.Sprintf("Badge not found: %s", badgeID),
		Category: "badge",
		Action:   "Refresh the badge list and select again.",
	}
}

// NewBadgeUnavailableError は割当済みバッジを選択した場合のエラーを生成する。
func NewBadgeUnavailableError(badgeNumber string) *APIError {
	return &APIError{
		Code:     ErrCodeBadgeUnavailable,
		Message:  fmt.Sprintf("Badge %s is already assigned.", badgeNumber),
		Category: "badge",
		Action:   "Select a different badge.",
	}
}

// NewBadgeNotAssignedError は未割当バッジでチェックアウトしようとした場合のエラーを生成する。
func NewBadgeNotAssignedError(badgeNumber string) *APIError {
	return &APIError{
		Code:     ErrCodeBadgeNotAssigned,
		Message:  fmt.Sprintf("Badge %s is not checked out to anyone.", badgeNumber),
		Category: "badge",
		Action:   "Search for the badge again.",
	}
}

// NewConfirmationRequiredError はチェックアウト確認が未完了の場合のエラーを生成する。
// Message は利用者に提示する確認文言そのもの。
func NewConfirmationRequiredError(badgeNumber string) *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  fmt.Sprintf("Are you sure you want to check out badge %s?", badgeNumber),
		Category: "visitor",
		Action:   "Confirm with yes to check out.",
	}
}

// NewVisitorNotFoundError は来訪記録未検出エラーを生成する。
func NewVisitorNotFoundError(visitorID string) *APIError {
	return &APIError{
		Code:     ErrCodeVisitorNotFound,
		Message:  fmt.Sprintf("Visitor not found: %s", visitorID),
		Category: "visitor",
		Action:   "Refresh the visitor list.",
	}
}

// NewVisitorCheckedOutError はチェックアウト済みの来訪記録を再度チェックアウトしようとした場合のエラーを生成する。
func NewVisitorCheckedOutError() *APIError {
	return &APIError{
		Code:     ErrCodeVisitorCheckedOut,
		Message:  "Visitor is already checked out.",
		Category: "visitor",
		Action:   "Refresh the visitor list.",
	}
}

// NewInvalidStatusFilterError は無効なステータスフィルタのエラーを生成する。
func NewInvalidStatusFilterError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusFilter,
		Message:  fmt.Sprintf("Invalid status filter: %s", status),
		Category: "validation",
		Action:   "Use all, checked_in or checked_out.",
	}
}

// NewEmployeeFieldsRequiredError は従業員の必須項目不足エラーを生成する。
func NewEmployeeFieldsRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmployeeFieldsRequired,
		Message:  "Display name and email are required.",
		Category: "validation",
		Action:   "Fill in the display name and email.",
	}
}

// NewEmployeeNotFoundError は従業員未検出エラーを生成する。
func NewEmployeeNotFoundError(employeeID string) *APIError {
	return &APIError{
		Code:     ErrCodeEmployeeNotFound,
		Message:  fmt.Sprintf("Employee not found: %s", employeeID),
		Category: "directory",
		Action:   "Refresh the employee list.",
	}
}

// NewUnsupportedFileFormatError は取込ファイル形式エラーを生成する。
func NewUnsupportedFileFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedFileFormat,
		Message:  "Unsupported file format",
		Category: "directory",
		Action:   "Upload a .json or .csv file.",
	}
}

// NewSyncFailedError は従業員同期失敗エラーを生成する。
// 原因はログにのみ記録し、利用者には汎用メッセージのみを返す。
func NewSyncFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  "Sync failed",
		Category: "directory",
		Action:   "Check the file or directory settings and try again.",
	}
}

// NewDirectoryNotConfiguredError はディレクトリ連携設定が未設定の場合のエラーを生成する。
func NewDirectoryNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeDirectoryNotConfigured,
		Message:  "Directory sync is not configured.",
		Category: "directory",
		Action:   "Set ENTRA_TENANT_ID, ENTRA_CLIENT_ID and ENTRA_CLIENT_SECRET.",
	}
}

// NewInvalidDateRangeError は日付範囲の不正を表すエラーを生成する。
func NewInvalidDateRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateRange,
		Message:  reason,
		Category: "validation",
		Action:   "Pick a start and end date (YYYY-MM-DD) with start on or before end.",
	}
}

// NewNoVisitorDataError はエクスポート対象が0件の場合のエラーを生成する。
func NewNoVisitorDataError() *APIError {
	return &APIError{
		Code:     ErrCodeNoVisitorData,
		Message:  "No visitor data found in that range.",
		Category: "export",
		Action:   "Pick a different date range.",
	}
}

// NewCSVContentRequiredError はCSV本文未指定エラーを生成する。
func NewCSVContentRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCSVContentRequired,
		Message:  "CSV content is required",
		Category: "validation",
		Action:   "Export visitors before sending.",
	}
}

// NewRecipientRequiredError は宛先未指定エラーを生成する。
func NewRecipientRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeRecipientRequired,
		Message:  `"to" is required`,
		Category: "validation",
		Action:   "Enter a recipient email address.",
	}
}

// NewSendFailedError はメール送信失敗エラーを生成する。
// detail にはプロバイダーのエラー内容を渡す。
func NewSendFailedError(detail string) *APIError {
	msg := "Send failed"
	if detail != "" {
		msg = msg + ": " + detail
	}
	return &APIError{
		Code:     ErrCodeSendFailed,
		Message:  msg,
		Category: "export",
		Action:   "Check the mail settings and try again.",
	}
}

// NewDuplicateError は一意制約違反のエラーを生成する。
func NewDuplicateError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicate,
		Message:  message,
		Category: "validation",
		Action:   "Use a different value.",
	}
}

// NewKioskLockedError はアイドルロック中のキオスクで操作しようとした場合のエラーを生成する。
func NewKioskLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeKioskLocked,
		Message:  "This kiosk was locked after inactivity.",
		Category: "auth",
		Action:   "Tap the screen to dismiss the idle notice.",
	}
}

// NewKioskCapacityError は管理できるキオスク数の上限に達した場合のエラーを生成する。
func NewKioskCapacityError() *APIError {
	return &APIError{
		Code:     ErrCodeKioskCapacity,
		Message:  "Too many kiosks are active on this server.",
		Category: "system",
		Action:   "Try again after idle kiosks are released.",
	}
}

// NewInvalidFormViewError は無効なフォーム種別のエラーを生成する。
func NewInvalidFormViewError(view string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFormView,
		Message:  fmt.Sprintf("Invalid form view: %s", view),
		Category: "validation",
		Action:   "Use none, check_in or check_out.",
	}
}

// StoreError はデータストアが返したエラーの内容を保持する。
// 利用者にはメッセージ・詳細・ヒント・コードを連結してそのまま表示する。
type StoreError struct {
	Message string
	Detail  string
	Hint    string
	Code    string
}

// Error は存在する要素のみを連結したメッセージを返す。
func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString(" Details: ")
		b.WriteString(e.Detail)
	}
	if e.Hint != "" {
		b.WriteString(" Hint: ")
		b.WriteString(e.Hint)
	}
	if e.Code != "" {
		b.WriteString(" (Code: ")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	return strings.TrimSpace(b.String())
}

// IsUniqueViolation は一意制約違反（SQLSTATE 23505）かどうかを返す。
func (e *StoreError) IsUniqueViolation() bool {
	return e.Code == "23505"
}
