package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hitoshi/visitdesk/internal/export"
)

// ExportServiceInterface はエクスポートハンドラーが必要とするサービスインターフェース。
type ExportServiceInterface interface {
	Export(ctx context.Context, start, end string) (*export.Result, error)
	EmailExport(ctx context.Context, start, end, to string) (*export.Result, error)
	SendCSV(ctx context.Context, csvContent, to, subject string) error
}

// ExportHandler は来訪記録のCSVエクスポートとメール送信のHTTPハンドラー。
type ExportHandler struct {
	service ExportServiceInterface
}

// NewExportHandler はExportHandlerを生成する。
func NewExportHandler(service ExportServiceInterface) *ExportHandler {
	return &ExportHandler{service: service}
}

type emailExportRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
	To    string `json:"to" validate:"omitempty,email"`
}

type sendCSVRequest struct {
	CSVContent string `json:"csvContent"`
	To         string `json:"to" validate:"omitempty,email"`
	Subject    string `json:"subject" validate:"max=200"`
}

// DownloadVisitors は期間内の来訪記録をCSVファイルとして返す。
// GET /api/exports/visitors?start=&end=
func (h *ExportHandler) DownloadVisitors(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Export(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Content)
}

// EmailVisitors は期間内の来訪記録をCSVにしてメールで送る。
// POST /api/exports/visitors/email
func (h *ExportHandler) EmailVisitors(w http.ResponseWriter, r *http.Request) {
	var req emailExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.EmailExport(r.Context(), req.Start, req.End, req.To)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"file_name": result.FileName,
		"rows":      result.Rows,
	})
}

// SendCSV は受け取ったCSV本文を添付してメールで送る。
// POST /api/exports/email
func (h *ExportHandler) SendCSV(w http.ResponseWriter, r *http.Request) {
	var req sendCSVRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SendCSV(r.Context(), req.CSVContent, req.To, req.Subject); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
