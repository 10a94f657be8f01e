// Package identity adapts the external identity service's bearer tokens into
// the patient and provider identifiers the booking service acts for.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

const (
	RolePatient  = "patient"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	PatientID  string `json:"patient_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses an HS256 token and returns its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Issue signs claims with the shared secret. The identity service owns real
// issuance; this exists for the seeder, the simulator and tests.
func Issue(secret, issuer string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.Issuer = issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Subject == "" {
		claims.Subject = claims.PatientID + claims.ProviderID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// CurrentPatientID returns the authenticated patient. A session without a
// patient identity fails with ErrUnauthorized.
func CurrentPatientID(ctx context.Context) (uuid.UUID, error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrUnauthenticated
	}
	if c.PatientID == "" {
		return uuid.Nil, fmt.Errorf("%w: not a patient session", ErrUnauthorized)
	}
	id, err := uuid.Parse(c.PatientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed patient id", ErrUnauthenticated)
	}
	return id, nil
}

// CurrentProviderID returns the authenticated provider.
func CurrentProviderID(ctx context.Context) (uuid.UUID, error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrUnauthenticated
	}
	if c.ProviderID == "" {
		return uuid.Nil, fmt.Errorf("%w: not a provider session", ErrUnauthorized)
	}
	id, err := uuid.Parse(c.ProviderID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed provider id", ErrUnauthenticated)
	}
	return id, nil
}
