package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "bookshelf"
	defaultAudience = "bookshelf-web"
	defaultLeeway   = 30 * time.Second
	minSecretLength = 32
)

// ErrInvalidSession covers malformed, expired, foreign and revoked tokens.
var ErrInvalidSession = errors.New("invalid session")

// SessionOptions configures token lifetime and claim validation.
type SessionOptions struct {
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Sessions issues and validates HS256 session tokens carrying the user id as
// subject. Logout revokes the token by jti until it expires.
type Sessions struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker

	issuer   string
	audience string
	leeway   time.Duration
}

// NewSessions builds a session issuer. secret must be at least 32 bytes.
func NewSessions(secret string, revoker TokenRevoker, opts SessionOptions) (*Sessions, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}
	if opts.TTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		opts.Issuer = defaultIssuer
	}
	if strings.TrimSpace(opts.Audience) == "" {
		opts.Audience = defaultAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return &Sessions{
		secret:   []byte(secret),
		ttl:      opts.TTL,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// TTL is the lifetime of newly issued tokens.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// NewSession creates a signed token for the user id.
func (s *Sessions) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// GetUserIDByToken validates a token and returns its subject.
func (s *Sessions) GetUserIDByToken(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return "", fmt.Errorf("%w: token revoked", ErrInvalidSession)
		}
	}
	return claims.Subject, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *Sessions) DeleteSession(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (s *Sessions) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty token", ErrInvalidSession)
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid {
		return claims, ErrInvalidSession
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return claims, fmt.Errorf("%w: missing jti or subject", ErrInvalidSession)
	}
	return claims, nil
}
