// Package auth は管理者のパスワードログイン、PIN認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/visitdesk/internal/metrics"
	"github.com/hitoshi/visitdesk/internal/model"
	"github.com/hitoshi/visitdesk/internal/repository"
)

// PinHashCost はPINのbcryptコスト。
const PinHashCost = 10

// MinPinLength はPINの最小桁数。
const MinPinLength = 4

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	adminRepo   repository.AdminRepository
	sessionRepo repository.SessionRepository
	profileRepo repository.ProfileRepository
	pins        *PinTokenIssuer
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	adminRepo repository.AdminRepository,
	sessionRepo repository.SessionRepository,
	profileRepo repository.ProfileRepository,
	pins *PinTokenIssuer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		adminRepo:   adminRepo,
		sessionRepo: sessionRepo,
		profileRepo: profileRepo,
		pins:        pins,
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// Login はメールアドレスとパスワードを検証し、バックエンドセッションを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, *model.Admin, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	admin, err := s.adminRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find admin: %w", err)
	}
	if admin == nil {
		// 存在しないアカウントでも比較時間を揃える
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, admin.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("admin logged in",
		slog.String("admin_id", admin.ID),
		slog.String("method", "password"),
	)
	return session, admin, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("visitdesk-dummy-password"), bcrypt.MinCost)

// VerifyPin はPINから管理者を特定し、署名付きのPINセッションを発行する。
// SHA-256ダイジェストは候補の検索にのみ使い、bcryptハッシュの一致を認証の根拠とする。
func (s *Service) VerifyPin(ctx context.Context, pin string) (string, *model.LocalPinSession, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		s.metrics.RecordPinFailure()
		return "", nil, model.NewInvalidPinError()
	}

	profiles, err := s.profileRepo.FindByPinSHA256(ctx, PinDigest(pin))
	if err != nil {
		return "", nil, fmt.Errorf("failed to find profile: %w", err)
	}

	for _, p := range profiles {
		if bcrypt.CompareHashAndPassword([]byte(p.PinHash), []byte(pin)) != nil {
			continue
		}
		admin, err := s.adminRepo.FindByID(ctx, p.ID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to find admin: %w", err)
		}
		if admin == nil {
			continue
		}

		token, session, err := s.pins.Issue(admin.ID, admin.Email)
		if err != nil {
			return "", nil, fmt.Errorf("failed to issue pin session: %w", err)
		}
		slog.Info("admin logged in",
			slog.String("admin_id", admin.ID),
			slog.String("method", "pin"),
		)
		return token, session, nil
	}

	s.metrics.RecordPinFailure()
	slog.Warn("PIN認証に失敗", slog.Int("candidates", len(profiles)))
	return "", nil, model.NewInvalidPinError()
}

// ChangePin は管理者のPINを設定する。数字のみ MinPinLength 桁以上が必要。
func (s *Service) ChangePin(ctx context.Context, adminID, pin string) error {
	if !validPin(pin) {
		return model.NewPinTooShortError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), PinHashCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}

	profile := &model.Profile{
		ID:        adminID,
		PinHash:   string(hash),
		PinSHA256: PinDigest(pin),
		UpdatedAt: s.now(),
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	slog.Info("PINを更新", slog.String("admin_id", adminID))
	return nil
}

func validPin(pin string) bool {
	if len(pin) < MinPinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PinDigest はPINのSHA-256ダイジェスト（16進小文字）を返す。
func PinDigest(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// Resolve はリクエストの認証情報を解決する。バックエンドセッションを先に確認し、
// 無効な場合にPINセッションを確認する。どちらも無効なら NoAuth を返す。
func (s *Service) Resolve(ctx context.Context, sessionID, pinToken string) (model.AuthResult, error) {
	if sessionID != "" {
		session, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return model.NoAuth{}, fmt.Errorf("failed to find session: %w", err)
		}
		if session != nil {
			admin, err := s.adminRepo.FindByID(ctx, session.AdminID)
			if err != nil {
				return model.NoAuth{}, fmt.Errorf("failed to find admin: %w", err)
			}
			if admin != nil {
				return model.BackendSession{SessionID: session.ID, AdminID: admin.ID, Email: admin.Email}, nil
			}
		}
	}

	if pinToken != "" {
		pin, err := s.pins.Parse(pinToken)
		if err == nil {
			return *pin, nil
		}
		slog.Debug("PINセッションが無効", slog.String("error", err.Error()))
	}

	return model.NoAuth{}, nil
}

// Logout はバックエンドセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("admin logged out", slog.String("session_id", sessionID))
	return nil
}

// SignOut はバックエンドセッションとPINセッションの両方を破棄する。
// 空の値は無視する。
func (s *Service) SignOut(ctx context.Context, sessionID, pinTokenID string, pinExpiry time.Time) error {
	if pinTokenID != "" {
		s.pins.Revoke(pinTokenID, pinExpiry)
	}
	if sessionID == "" {
		return nil
	}
	return s.Logout(ctx, sessionID)
}

// CreateAdmin は管理者を作成する。同じメールアドレスが存在する場合は名前とパスワードを更新する。
func (s *Service) CreateAdmin(ctx context.Context, email, password, name string) (*model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	admin := &model.Admin{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.adminRepo.Upsert(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to save admin: %w", err)
	}

	// 既存の管理者ならパスワードが変わるため、発行済みのセッションを無効にする
	revoked, err := s.sessionRepo.DeleteByAdminID(ctx, admin.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if revoked > 0 {
		slog.Info("パスワード再設定により既存セッションを破棄しました",
			slog.String("admin_id", admin.ID),
			slog.Int64("revoked", revoked),
		)
	}
	return admin, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, adminID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		AdminID:   adminID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
