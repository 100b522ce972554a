package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// refreshSecretSuffix separates the refresh signing key from the access key.
const refreshSecretSuffix = ":refresh"

type claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
	Kind  Kind      `json:"kind"`
}

// Config configures a Service.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      clock.Clock
}

// Service mints and verifies HS256 tokens. It holds no mutable state.
type Service struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
	parser     *jwt.Parser
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	return &Service{
		accessKey:  []byte(cfg.Secret),
		refreshKey: []byte(cfg.Secret + refreshSecretSuffix),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      cfg.Clock,
		// Expiry is checked by hand after the signature so that the
		// boundary is inclusive of expires-at.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// AccessTTL returns the access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Mint signs a new token of the given kind.
func (s *Service) Mint(subject, email string, role rbac.Role, kind Kind) (string, Payload, error) {
	key, ttl, err := s.params(kind)
	if err != nil {
		return "", Payload{}, err
	}
	issued := s.clock.Now().UTC().Truncate(time.Second)
	payload := Payload{
		Subject:   subject,
		Email:     email,
		Role:      role,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
		ID:        uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Subject,
			IssuedAt:  jwt.NewNumericDate(payload.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
			ID:        payload.ID,
		},
		Email: email,
		Role:  role,
		Kind:  kind,
	})
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", Payload{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, payload, nil
}

// IssuePair mints an access and refresh token for the same identity.
func (s *Service) IssuePair(subject, email string, role rbac.Role) (Pair, error) {
	access, _, err := s.Mint(subject, email, role, KindAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, _, err := s.Mint(subject, email, role, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		TokenType:    SchemeBearer,
	}, nil
}

// Verify checks signature, kind and expiry. Every failure, including decode
// errors, is reported as shared.ErrInvalidToken.
func (s *Service) Verify(raw string, kind Kind) (Payload, error) {
	key, _, err := s.params(kind)
	if err != nil {
		return Payload{}, shared.ErrInvalidToken
	}
	if strings.Count(raw, ".") != 2 {
		return Payload{}, shared.ErrInvalidToken
	}
	var c claims
	tok, err := s.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !tok.Valid {
		return Payload{}, shared.ErrInvalidToken
	}
	if c.Kind != kind || !c.Role.Valid() {
		return Payload{}, shared.ErrInvalidToken
	}
	payload, ok := toPayload(c)
	if !ok || payload.Expired(s.clock.Now()) {
		return Payload{}, shared.ErrInvalidToken
	}
	return payload, nil
}

// Decode extracts the payload without checking signature or expiry. The
// result must never drive an authorization decision.
func (s *Service) Decode(raw string) (Payload, error) {
	if strings.Count(raw, ".") != 2 {
		return Payload{}, shared.ErrInvalidToken
	}
	var c claims
	if _, _, err := s.parser.ParseUnverified(raw, &c); err != nil {
		return Payload{}, shared.ErrInvalidToken
	}
	payload, ok := toPayload(c)
	if !ok {
		return Payload{}, shared.ErrInvalidToken
	}
	return payload, nil
}

func (s *Service) params(kind Kind) ([]byte, time.Duration, error) {
	switch kind {
	case KindAccess:
		return s.accessKey, s.accessTTL, nil
	case KindRefresh:
		return s.refreshKey, s.refreshTTL, nil
	default:
		return nil, 0, fmt.Errorf("token: unknown kind %q", kind)
	}
}

func toPayload(c claims) (Payload, bool) {
	if c.IssuedAt == nil || c.ExpiresAt == nil || c.Subject == "" {
		return Payload{}, false
	}
	return Payload{
		Subject:   c.Subject,
		Email:     c.Email,
		Role:      c.Role,
		IssuedAt:  c.IssuedAt.Time.UTC(),
		ExpiresAt: c.ExpiresAt.Time.UTC(),
		ID:        c.ID,
	}, true
}
