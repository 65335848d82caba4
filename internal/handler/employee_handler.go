package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/visitdesk/internal/directory"
	"github.com/hitoshi/visitdesk/internal/model"
)

// EmployeeServiceInterface は従業員名簿ハンドラーが必要とするサービスインターフェース。
type EmployeeServiceInterface interface {
	List(ctx context.Context) ([]*model.Employee, error)
	Create(ctx context.Context, in directory.CreateInput) (*model.Employee, error)
	Delete(ctx context.Context, id string) error
	ImportFile(ctx context.Context, filename string, r io.Reader) (int, error)
	Sync(ctx context.Context) (int, error)
}

// EmployeeHandler は従業員名簿の管理HTTPハンドラー。
type EmployeeHandler struct {
	service        EmployeeServiceInterface
	importMaxBytes int64
}

// NewEmployeeHandler はEmployeeHandlerを生成する。
func NewEmployeeHandler(service EmployeeServiceInterface, importMaxBytes int64) *EmployeeHandler {
	return &EmployeeHandler{
		service:        service,
		importMaxBytes: importMaxBytes,
	}
}

type createEmployeeRequest struct {
	DisplayName string `json:"display_name" validate:"max=200"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	JobTitle    string `json:"job_title" validate:"max=200"`
	AzureADID   string `json:"azure_ad_id" validate:"max=64"`
}

// ListEmployees は従業員一覧を返す。
// GET /api/employees
func (h *EmployeeHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeResponses(employees))
}

// CreateEmployee は従業員を手動登録する。
// POST /api/employees
func (h *EmployeeHandler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req createEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	e, err := h.service.Create(r.Context(), directory.CreateInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		JobTitle:    req.JobTitle,
		AzureADID:   req.AzureADID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeResponses([]*model.Employee{e})[0])
}

// DeleteEmployee は従業員を削除する。
// DELETE /api/employees/{id}
func (h *EmployeeHandler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, model.NewEmployeeNotFoundError)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportEmployees はmultipartの file フィールドで受け取った .json / .csv を取り込む。
// POST /api/employees/import
func (h *EmployeeHandler) ImportEmployees(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.importMaxBytes)
	if err := r.ParseMultipartForm(h.importMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleServiceError(w, model.NewInvalidRequestError("file is too large"))
			return
		}
		handleServiceError(w, model.NewInvalidRequestError("multipart form with a file field is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		handleServiceError(w, model.NewInvalidRequestError("file is required"))
		return
	}
	defer file.Close()

	n, err := h.service.ImportFile(r.Context(), header.Filename, file)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("従業員ファイルを取り込みました",
		slog.String("filename", header.Filename),
		slog.Int("imported", n),
	)
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// SyncEmployees は外部ディレクトリから従業員を同期する。
// POST /api/employees/sync
func (h *EmployeeHandler) SyncEmployees(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Sync(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
