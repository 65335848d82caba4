// Package export は来訪記録のCSVエクスポートとメール送信を提供する。
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/visitdesk/internal/mail"
	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/repository"
)

const (
	// DateLayout は期間指定の日付書式。
	DateLayout = "2006-01-02"
	// AttachmentName はメール添付時のファイル名。
	AttachmentName = "visitor_log.csv"
	// DefaultSubject は件名未指定時の件名。
	DefaultSubject = "Visitor Log CSV"
)

// Header はエクスポートCSVの列。
var Header = []string{
	"id", "name", "company", "phone", "email", "host_name", "host_id", "badge_id",
	"citizenship", "status", "checked_in_at", "checked_out_at", "created_at", "updated_at",
}

// Range はエクスポート対象期間。From は開始日の0時、To は終了日の23:59:59.999。
type Range struct {
	Start string
	End   string
	From  time.Time
	To    time.Time
}

// ParseRange は YYYY-MM-DD 形式の開始日・終了日を loc のタイムゾーンで解釈する。
func ParseRange(start, end string, loc *time.Location) (Range, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return Range{}, model.NewInvalidDateRangeError("start and end dates are required")
	}
	from, err := time.ParseInLocation(DateLayout, start, loc)
	if err != nil {
		return Range{}, model.NewInvalidDateRangeError("invalid start date: " + start)
	}
	endDay, err := time.ParseInLocation(DateLayout, end, loc)
	if err != nil {
		return Range{}, model.NewInvalidDateRangeError("invalid end date: " + end)
	}
	if endDay.Before(from) {
		return Range{}, model.NewInvalidDateRangeError("start date must be on or before end date")
	}
	return Range{
		Start: start,
		End:   end,
		From:  from,
		To:    endDay.AddDate(0, 0, 1).Add(-time.Millisecond),
	}, nil
}

// FileName はダウンロード時のファイル名を返す。
func (r Range) FileName() string {
	if r.Start == r.End {
		return "visitors_" + r.Start + ".csv"
	}
	return "visitors_" + r.Start + "_to_" + r.End + ".csv"
}

// WriteCSV は来訪記録をヘッダ付きCSVで書き出す。日時はRFC 3339、NULLは空欄。
func WriteCSV(w io.Writer, visitors []*model.Visitor) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, v := range visitors {
		record := []string{
			v.ID,
			v.Name,
			v.Company,
			v.Phone,
			v.Email,
			v.HostName,
			deref(v.HostID),
			deref(v.BadgeID),
			strconv.FormatBool(v.Citizenship),
			string(v.Status),
			v.CheckedInAt.Format(time.RFC3339),
			formatTime(v.CheckedOutAt),
			v.CreatedAt.Format(time.RFC3339),
			v.UpdatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Result はエクスポート結果。
type Result struct {
	FileName string
	Content  []byte
	Rows     int
}

// Service はエクスポートのビジネスロジックを提供する。
type Service struct {
	visitors         repository.VisitorRepository
	sender           mail.Sender
	metrics          metrics.MetricsCollector
	defaultRecipient string
	loc              *time.Location
}

// NewService はServiceを生成する。sender が nil の場合、メール送信は失敗として扱う。
func NewService(
	visitors repository.VisitorRepository,
	sender mail.Sender,
	collector metrics.MetricsCollector,
	defaultRecipient string,
	loc *time.Location,
) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		visitors:         visitors,
		sender:           sender,
		metrics:          collector,
		defaultRecipient: defaultRecipient,
		loc:              loc,
	}
}

// Export は期間内にチェックインした来訪記録をCSVにする。0件の場合はエラーを返す。
func (s *Service) Export(ctx context.Context, start, end string) (*Result, error) {
	r, err := ParseRange(start, end, s.loc)
	if err != nil {
		return nil, err
	}

	visitors, err := s.visitors.ListCheckedInBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("エクスポート対象の取得に失敗しました: %w", err)
	}
	if len(visitors) == 0 {
		return nil, model.NewNoVisitorDataError()
	}

	var buf strings.Builder
	if err := WriteCSV(&buf, visitors); err != nil {
		return nil, fmt.Errorf("CSVの生成に失敗しました: %w", err)
	}

	return &Result{
		FileName: r.FileName(),
		Content:  []byte(buf.String()),
		Rows:     len(visitors),
	}, nil
}

// EmailExport は期間のCSVを生成して送信する。0件の場合は送信しない。
// to が空の場合は既定の宛先を使う。
func (s *Service) EmailExport(ctx context.Context, start, end, to string) (*Result, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		to = s.defaultRecipient
	}
	if to == "" {
		return nil, model.NewRecipientRequiredError()
	}

	result, err := s.Export(ctx, start, end)
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("%s (%s)", DefaultSubject, strings.TrimSuffix(strings.TrimPrefix(result.FileName, "visitors_"), ".csv"))
	if err := s.SendCSV(ctx, string(result.Content), to, subject); err != nil {
		return nil, err
	}
	return result, nil
}

// SendCSV はCSV本文を visitor_log.csv として添付し送信する。件名が空の場合は既定の件名を使う。
func (s *Service) SendCSV(ctx context.Context, csvContent, to, subject string) error {
	if csvContent == "" {
		return model.NewCSVContentRequiredError()
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return model.NewRecipientRequiredError()
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	if s.sender == nil {
		s.metrics.RecordExportEmail(false)
		slog.Error("メール送信が未設定のためエクスポートを送信できません")
		return model.NewSendFailedError("mail is not configured")
	}

	rows := strings.Count(strings.TrimRight(csvContent, "\n"), "\n")
	msg := &mail.Message{
		To:      []string{to},
		Subject: subject,
		HTML: fmt.Sprintf("<p>%s</p><p>Rows: %d</p><p>The visitor log is attached as <b>%s</b>.</p>",
			html.EscapeString(subject), rows, AttachmentName),
		Attachments: []mail.Attachment{
			{Name: AttachmentName, ContentType: "text/csv", Data: []byte(csvContent)},
		},
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		s.metrics.RecordExportEmail(false)
		slog.Error("エクスポートメールの送信に失敗", slog.String("error", err.Error()))
		return model.NewSendFailedError(err.Error())
	}

	s.metrics.RecordExportEmail(true)
	slog.Info("エクスポートメールを送信", slog.Int("rows", rows))
	return nil
}
