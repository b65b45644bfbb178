// Package tokens issues and verifies the signed, expiring JWTs used by the
// auth service. Every token carries a purpose ("scope" claim) and is only
// accepted for that purpose.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose restricts what a token may be used for.
type Purpose string

const (
	PurposeAccess        Purpose = "access_token"
	PurposeRefresh       Purpose = "refresh_token"
	PurposeEmailConfirm  Purpose = "email_token"
	PurposePasswordReset Purpose = "reset_token"
)

// Claims are the JWT claims of every token: sub is the user's email, jti makes
// tokens minted in the same second distinct.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"scope"`
}

var signingMethod = jwt.SigningMethodHS256

// Codec signs and verifies tokens with a shared HMAC secret.
type Codec struct {
	secret []byte
	ttls   map[Purpose]time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithTTL sets the lifetime used by IssueFor for the given purpose.
func WithTTL(p Purpose, ttl time.Duration) Option {
	return func(c *Codec) { c.ttls[p] = ttl }
}

func NewCodec(secret []byte, opts ...Option) *Codec {
	c := &Codec{
		secret: secret,
		now:    time.Now,
		ttls: map[Purpose]time.Duration{
			PurposeAccess:        15 * time.Minute,
			PurposeRefresh:       7 * 24 * time.Hour,
			PurposeEmailConfirm:  24 * time.Hour,
			PurposePasswordReset: time.Hour,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured lifetime for p.
func (c *Codec) TTL(p Purpose) time.Duration {
	return c.ttls[p]
}

// Issue signs a token for subject, valid for purpose until now+ttl.
func (c *Codec) Issue(subject string, purpose Purpose, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}

	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and purpose and returns the subject.
//
// Errors: common.ErrTokenExpired once now reaches the expiry,
// common.ErrInvalidSignature for a bad signature, algorithm or format, and
// common.ErrWrongPurpose when the token was issued for another purpose.
// Expiry is reported before a purpose mismatch.
func (c *Codec) Verify(token string, expected Purpose) (string, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", common.ErrInvalidSignature)
	}
	if claims.Purpose != expected {
		return "", common.ErrWrongPurpose
	}

	return claims.Subject, nil
}
