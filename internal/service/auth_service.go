package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends the standard JWT claims with the caller's role.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      domain.Role `json:"role"`
	TokenType string      `json:"type"` // always "access"
}

// UserID parses the subject claim.
func (c *AppClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrTokenInvalid
	}
	return id, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService issues and verifies HS256 access tokens.  Identity itself is
// owned by an upstream account system; the ledger only needs a verified
// (user id, role) pair per request.
type AuthService struct {
	cfg *config.JWTConfig
	now func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: &cfg.JWT, now: time.Now}
}

// IssueAccessToken signs a token for userID with role, valid for AccessTTL.
func (s *AuthService) IssueAccessToken(userID uuid.UUID, role domain.Role) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("auth_service.IssueAccessToken: unknown role %q", role)
	}
	now := s.now().UTC()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		Role:      role,
		TokenType: "access",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("auth_service.IssueAccessToken: sign: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates the signature, algorithm, expiry and token type.
// Every failure is reported as domain.ErrTokenInvalid.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.AccessSecret), nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || claims.TokenType != "access" || !claims.Role.IsValid() {
		return nil, domain.ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
