package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/domain"
	"github.com/evetabi/vault/internal/store"
	"github.com/evetabi/vault/internal/vault"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
// Subject carries either a vault.Principal (for the player-facing API) or an
// operator username (for the backoffice) — the two surfaces never overlap
// in scope of what a token can reach, so one claim shape serves both.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // "access" or "refresh"
}

// TokenPair holds both tokens returned by generateTokenPair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService issues and parses the JWTs that gate both the player-facing
// API and the backoffice. It never authenticates a vault.Principal itself —
// the vault core treats every caller as already authenticated by whatever
// sits in front of it — but it does authenticate human backoffice operators
// against a username/password pair, the same way the teacher's AuthService
// authenticates end users.
type AuthService struct {
	store *store.Store
	cfg   *config.Config
}

// NewAuthService creates an AuthService.
func NewAuthService(s *store.Store, cfg *config.Config) *AuthService {
	return &AuthService{store: s, cfg: cfg}
}

// ──────────────────────────────────────────────────────────────────────────────
// Principal sessions (player-facing API)
// ──────────────────────────────────────────────────────────────────────────────

// IssuePrincipalSession mints a token pair for p, whose role defaults to
// domain.RolePrincipal unless an operator role has been granted to this
// principal directly (spec.md has no separate operator-identity concept;
// the same principal space covers both).
func (s *AuthService) IssuePrincipalSession(ctx context.Context, p vault.Principal) (TokenPair, error) {
	role := string(domain.RolePrincipal)
	if s.store == nil {
		return s.generateTokenPair(string(p), role)
	}
	if granted, err := s.store.GetRole(ctx, string(p)); err == nil {
		role = granted
	} else if !errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("auth_service.IssuePrincipalSession: %w", err)
	}
	return s.generateTokenPair(string(p), role)
}

// ──────────────────────────────────────────────────────────────────────────────
// Operator accounts (backoffice)
// ──────────────────────────────────────────────────────────────────────────────

// RegisterOperator creates a backoffice login with the given role
// (spec.md §6's operator surface: risk, finance, admin, readonly).
func (s *AuthService) RegisterOperator(ctx context.Context, username, password string, role domain.Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return fmt.Errorf("auth_service.RegisterOperator: hash: %w", err)
	}
	if err := s.store.CreateOperator(ctx, username, string(hash), string(role)); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return err
		}
		return fmt.Errorf("auth_service.RegisterOperator: %w", err)
	}
	return nil
}

// LoginOperator validates a backoffice username/password pair and returns a
// fresh token pair.
func (s *AuthService) LoginOperator(ctx context.Context, username, password string) (TokenPair, error) {
	account, err := s.store.GetOperator(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, domain.ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("auth_service.LoginOperator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return TokenPair{}, domain.ErrInvalidCredentials
	}
	return s.generateTokenPair(account.Username, account.Role)
}

// ──────────────────────────────────────────────────────────────────────────────
// RefreshToken
// ──────────────────────────────────────────────────────────────────────────────

// RefreshToken validates a refresh token and issues a new token pair for the
// same subject and role it already carried.
func (s *AuthService) RefreshToken(refreshToken string) (TokenPair, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		return TokenPair{}, domain.ErrTokenInvalid
	}
	if claims.TokenType != "refresh" {
		return TokenPair{}, domain.ErrTokenInvalid
	}
	return s.generateTokenPair(claims.Subject, claims.Role)
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

// generateTokenPair creates a signed access token (AccessTTL) and a signed
// refresh token (RefreshTTL) for the given subject/role.
func (s *AuthService) generateTokenPair(subject, role string) (TokenPair, error) {
	now := time.Now().UTC()
	secret := []byte(s.cfg.JWT.AccessSecret) // same secret for both; type claim differentiates

	accessClaims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTTL)),
		},
		Role:      role,
		TokenType: "access",
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.RefreshTTL)),
		},
		Role:      role,
		TokenType: "refresh",
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// parseToken validates the token signature, algorithm, and expiry.
func (s *AuthService) parseToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.cfg.JWT.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccessToken is exported for use by the JWT middleware.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
