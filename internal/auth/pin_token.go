package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/visitdesk/internal/model"
)

// ErrPinSessionRevoked はサインアウト等で失効済みのPINセッションを示す。
var ErrPinSessionRevoked = errors.New("pin session revoked")

var pinSigningMethod = jwt.SigningMethodHS256

type pinClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// PinTokenIssuer はPINセッションを表すHS256署名トークンを発行・検証する。
// 失効したトークンIDは有効期限までメモリ上で保持する。
type PinTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewPinTokenIssuer はPinTokenIssuerを生成する。
func NewPinTokenIssuer(secret string, ttl time.Duration) *PinTokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &PinTokenIssuer{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// TTL はPINセッションの有効期間を返す。
func (p *PinTokenIssuer) TTL() time.Duration { return p.ttl }

// Issue は管理者のPINセッショントークンを発行する。
func (p *PinTokenIssuer) Issue(adminID, email string) (string, *model.LocalPinSession, error) {
	now := p.now()
	claims := pinClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(pinSigningMethod, claims).SignedString(p.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign pin session: %w", err)
	}

	return token, &model.LocalPinSession{
		TokenID:   claims.ID,
		AdminID:   adminID,
		Email:     email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse はトークンを検証してPINセッションを返す。
func (p *PinTokenIssuer) Parse(token string) (*model.LocalPinSession, error) {
	claims := &pinClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{pinSigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, errors.New("invalid pin session")
	}
	if p.isRevoked(claims.ID) {
		return nil, ErrPinSessionRevoked
	}

	return &model.LocalPinSession{
		TokenID:   claims.ID,
		AdminID:   claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke はトークンIDを失効させる。expiresAt がゼロ値の場合はTTL後まで保持する。
func (p *PinTokenIssuer) Revoke(tokenID string, expiresAt time.Time) {
	if tokenID == "" {
		return
	}
	now := p.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(p.ttl)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[tokenID] = expiresAt
	for id, exp := range p.revoked {
		if exp.Before(now) {
			delete(p.revoked, id)
		}
	}
}

func (p *PinTokenIssuer) isRevoked(tokenID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.revoked[tokenID]
	return ok
}
