package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attendkiosk/internal/clock"
)

var (
	// ErrNoCredential is returned when no session credential is present.
	ErrNoCredential = errors.New("no session credential")
	// ErrMalformedToken is returned when the credential cannot be decoded into claims.
	ErrMalformedToken = errors.New("malformed session credential")
)

// Claims is the payload carried by the session credential.
type Claims struct {
	StudentID string `json:"studentId"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// segmentParser only decodes; the kiosk never holds the signing key.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Inspect decodes the payload segment of a compact credential without
// verifying its signature. The header and signature segments are ignored.
func Inspect(credential string) (Claims, error) {
	if credential == "" {
		return Claims{}, ErrNoCredential
	}
	parts := strings.Split(credential, ".")
	if len(parts) < 2 || parts[1] == "" {
		return Claims{}, fmt.Errorf("%w: missing payload segment", ErrMalformedToken)
	}
	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: exp claim missing", ErrMalformedToken)
	}
	return claims, nil
}

// IsValid reports whether credential decodes and expires strictly after now,
// compared at millisecond precision. It never returns an error.
func IsValid(credential string, now time.Time) bool {
	claims, err := Inspect(credential)
	if err != nil {
		return false
	}
	return claims.Expiry().UnixMilli() > now.UnixMilli()
}

// StudentID returns the subject identifier carried by credential.
func StudentID(credential string) (string, error) {
	claims, err := Inspect(credential)
	if err != nil {
		return "", err
	}
	if claims.StudentID == "" {
		return "", fmt.Errorf("%w: studentId claim missing", ErrMalformedToken)
	}
	return claims.StudentID, nil
}

// Inspector checks credentials against a clock.
type Inspector struct {
	Clock clock.Clock
}

// NewInspector returns an Inspector; a nil clock means wall-clock time.
func NewInspector(c clock.Clock) Inspector {
	if c == nil {
		c = clock.Real{}
	}
	return Inspector{Clock: c}
}

// Valid reports whether credential is currently valid.
func (i Inspector) Valid(credential string) bool {
	c := i.Clock
	if c == nil {
		c = clock.Real{}
	}
	return IsValid(credential, c.Now())
}
