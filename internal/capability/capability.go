// Package capability issues and verifies the owner tokens that gate
// training-corpus writes. Tokens are HS256 JWTs carrying an explicit scope;
// there is no ambient secret comparison anywhere else in the system.
package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeTrainingWrite authorizes appending training examples.
const ScopeTrainingWrite = "training:write"

var ErrUnauthorized = errors.New("capability token is invalid")

// Claims are the validated contents of a capability token.
type Claims struct {
	Owner     string
	Scope     string
	TokenID   string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Authority mints and verifies capability tokens with a shared HMAC secret.
type Authority struct {
	secret []byte
	now    func() time.Time
}

func NewAuthority(secret string, now func() time.Time) (*Authority, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("capability secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Authority{secret: []byte(secret), now: now}, nil
}

// Mint issues a token granting scope to owner for ttl.
func (a *Authority) Mint(owner, scope string, ttl time.Duration) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", errors.New("owner is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := a.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and scope. Any failure maps to
// ErrUnauthorized so callers cannot distinguish failure modes.
func (a *Authority) Verify(token, requiredScope string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrUnauthorized
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, ErrUnauthorized
	}
	if parsed.Subject == "" || parsed.ID == "" || parsed.ExpiresAt == nil {
		return Claims{}, ErrUnauthorized
	}
	if parsed.Scope != requiredScope {
		return Claims{}, ErrUnauthorized
	}

	return Claims{
		Owner:     parsed.Subject,
		Scope:     parsed.Scope,
		TokenID:   parsed.ID,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}
