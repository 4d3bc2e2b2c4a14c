package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"msgarchive/internal/config"
)

var (
	// ErrNotConfigured means no operator secret is configured; nothing is accepted.
	ErrNotConfigured = errors.New("server authentication is not configured")
	// ErrCredentialsRequired means the request carried no usable credential.
	ErrCredentialsRequired = errors.New("credentials required")
	// ErrInvalidCredentials means the supplied credential did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Login methods reported in Identity.Method.
const (
	MethodPassword = "password"
	MethodPIN      = "pin"
)

// Credential is what a login request carries. Either Email and Password or
// PIN is expected.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	PIN      string `json:"pin"`
}

// Identity describes an accepted operator.
type Identity struct {
	Email  string `json:"email,omitempty"`
	Method string `json:"method"`
}

// Verifier decides whether a credential identifies the operator.
type Verifier interface {
	Verify(ctx context.Context, cred Credential) (*Identity, error)
}

// StaticVerifier checks credentials against fixed configured values.
type StaticVerifier struct {
	email    string
	password string
	pin      string
}

// NewStaticVerifier builds a verifier from the auth section of the config.
func NewStaticVerifier(cfg config.AuthConfig) *StaticVerifier {
	return &StaticVerifier{
		email:    strings.TrimSpace(cfg.Email),
		password: cfg.Password,
		pin:      cfg.PIN,
	}
}

func (v *StaticVerifier) passwordMode() bool {
	return v.email != "" && v.password != ""
}

func (v *StaticVerifier) pinMode() bool {
	return v.pin != ""
}

// Verify accepts an email/password pair or a PIN, whichever modes are
// configured. Configuration is checked before any input.
func (v *StaticVerifier) Verify(_ context.Context, cred Credential) (*Identity, error) {
	if v == nil || (!v.passwordMode() && !v.pinMode()) {
		return nil, ErrNotConfigured
	}

	email := strings.TrimSpace(cred.Email)
	usablePair := v.passwordMode() && email != "" && cred.Password != ""
	usablePIN := v.pinMode() && cred.PIN != ""
	if !usablePair && !usablePIN {
		return nil, ErrCredentialsRequired
	}

	if usablePair && strings.EqualFold(email, v.email) && secretEqual(cred.Password, v.password) {
		return &Identity{Email: v.email, Method: MethodPassword}, nil
	}
	if usablePIN && secretEqual(cred.PIN, v.pin) {
		return &Identity{Method: MethodPIN}, nil
	}
	return nil, ErrInvalidCredentials
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
