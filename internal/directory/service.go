// Package directory は訪問先となる従業員名簿の管理（手動登録・ファイル取込・Entra ID 同期）を提供する。
package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/repository"
	"github.com/hitoshi/visitdesk/internal/security"
)

// Syncer は外部ディレクトリから従業員一覧を取得する。
type Syncer interface {
	FetchUsers(ctx context.Context) ([]*model.Employee, error)
}

// CreateInput は従業員の手動登録の入力値。
type CreateInput struct {
	DisplayName string
	Email       string
	JobTitle    string
	AzureADID   string
}

// Service は従業員名簿のビジネスロジックを提供する。
type Service struct {
	repo      repository.EmployeeRepository
	sanitizer security.InputSanitizerService
	metrics   metrics.MetricsCollector
	syncer    Syncer
}

// NewService はServiceを生成する。syncer が nil の場合、同期は未設定エラーになる。
func NewService(
	repo repository.EmployeeRepository,
	sanitizer security.InputSanitizerService,
	collector metrics.MetricsCollector,
	syncer Syncer,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   collector,
		syncer:    syncer,
	}
}

// List は全従業員を表示名順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Employee, error) {
	employees, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗しました: %w", err)
	}
	return employees, nil
}

// Create は従業員を1件登録する。表示名とメールアドレスは必須。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Employee, error) {
	e := &model.Employee{
		ID:          uuid.New().String(),
		DisplayName: s.sanitizer.Clean(in.DisplayName),
		Email:       strings.TrimSpace(in.Email),
		JobTitle:    s.sanitizer.Clean(in.JobTitle),
		AzureADID:   strings.TrimSpace(in.AzureADID),
	}
	if e.DisplayName == "" || e.Email == "" {
		return nil, model.NewEmployeeFieldsRequiredError()
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("従業員の登録に失敗しました: %w", err)
	}
	slog.Info("従業員を登録", slog.String("employee_id", e.ID))
	return e, nil
}

// Delete は従業員を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("従業員の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewEmployeeNotFoundError(id)
	}
	slog.Info("従業員を削除", slog.String("employee_id", id))
	return nil
}

// ImportFile は .json または .csv のファイルから従業員を取り込み、新規登録件数を返す。
// 登録済みのメールアドレスは無視する。
func (s *Service) ImportFile(ctx context.Context, filename string, r io.Reader) (int, error) {
	var (
		employees []*model.Employee
		err       error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		employees, err = ParseJSON(r)
	case ".csv":
		employees, err = ParseCSV(r)
	default:
		return 0, model.NewUnsupportedFileFormatError()
	}
	if err != nil {
		return 0, model.NewInvalidRequestError(err.Error())
	}
	s.clean(employees)

	inserted, err := s.upsert(ctx, employees)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordEmployeesImported(metrics.ImportSourceFile, inserted)
	slog.Info("従業員ファイルを取り込み",
		slog.String("filename", filename),
		slog.Int("rows", len(employees)),
		slog.Int("inserted", inserted),
	)
	return inserted, nil
}

// clean は外部から取り込んだ表示名と役職からマークアップを除去する。
// 表示名が空になった場合はメールアドレスで代用する。
func (s *Service) clean(employees []*model.Employee) {
	for _, e := range employees {
		e.DisplayName = s.sanitizer.Clean(e.DisplayName)
		e.JobTitle = s.sanitizer.Clean(e.JobTitle)
		if e.DisplayName == "" {
			e.DisplayName = e.Email
		}
	}
}

// Sync は Entra ID から従業員を取得して取り込み、新規登録件数を返す。
// 外部APIの失敗は原因をログに残し、利用者には "Sync failed" のみを返す。
func (s *Service) Sync(ctx context.Context) (int, error) {
	if s.syncer == nil {
		return 0, model.NewDirectoryNotConfiguredError()
	}

	users, err := s.syncer.FetchUsers(ctx)
	if err != nil {
		slog.Error("ディレクトリ同期に失敗", slog.String("error", err.Error()))
		s.metrics.RecordDirectorySyncFailure()
		return 0, model.NewSyncFailedError()
	}

	s.clean(users)

	inserted, err := s.upsert(ctx, users)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordEmployeesImported(metrics.ImportSourceDirectory, inserted)
	slog.Info("ディレクトリ同期完了",
		slog.Int("fetched", len(users)),
		slog.Int("inserted", inserted),
	)
	return inserted, nil
}

func (s *Service) upsert(ctx context.Context, employees []*model.Employee) (int, error) {
	if len(employees) == 0 {
		return 0, nil
	}
	inserted, err := s.repo.InsertIgnoringDuplicates(ctx, employees)
	if err != nil {
		return 0, fmt.Errorf("従業員の一括登録に失敗しました: %w", err)
	}
	return inserted, nil
}
