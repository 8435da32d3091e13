// Package identity tracks age and identity verification of the two parties
// of a payment.
//
// Verification itself happens in an external attestation service. Once the
// user has proven their age there, the service issues a signed JWT which
// Attest checks. The payment state machine only asks whether a role is
// verified.
package identity

import (
	"crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is a party of a payment.
type Role int

const (
	RolePatient Role = iota
	RoleRecipient
)

func (r Role) String() string {
	switch r {
	case RolePatient:
		return "patient"
	case RoleRecipient:
		return "recipient"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Scope is the attestation scope requested for the role.
func (r Role) Scope() string {
	if r == RoleRecipient {
		return "therapist-verification"
	}
	return "patient-verification"
}

// MinAge is the minimum attested age for the role.
func (r Role) MinAge() int {
	if r == RoleRecipient {
		return 21
	}
	return 18
}

// Status of one party's verification.
type Status int

const (
	StatusUnverified Status = iota
	StatusPending
	StatusVerified
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is one party's verification state. UniqueID is set once verified,
// Error once failed.
type State struct {
	Status   Status
	UniqueID string
	Over18   bool
	Error    string
}

var (
	// ErrSkipDisabled is returned by Skip unless AllowSkip is set.
	ErrSkipDisabled = errors.New("verification skip is disabled")

	// ErrNoKey is returned by Attest when no attestation key is configured.
	ErrNoKey = errors.New("no attestation key configured")
)

// Claims are the attestation token's claims.
type Claims struct {
	Verified         bool   `json:"verified"`
	UniqueIdentifier string `json:"unique_identifier"`
	MinAge           int    `json:"min_age"`
	Scope            string `json:"scope"`
	jwt.RegisteredClaims
}

// Config configures a Verifier.
type Config struct {
	// Key verifies attestation tokens: *rsa.PublicKey (RS256) or
	// *ecdsa.PublicKey (ES256).
	Key crypto.PublicKey

	// Issuer, if set, must match the token's iss claim.
	Issuer string

	// AllowSkip enables Skip. Never set it in production.
	AllowSkip bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Verifier holds the verification state of both parties.
type Verifier struct {
	cfg Config

	mu     sync.RWMutex
	states map[Role]State
}

// NewVerifier creates a verifier with both parties unverified.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg, states: make(map[Role]State)}
}

// State returns role's current state.
func (v *Verifier) State(role Role) State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.states[role]
}

// IsVerified reports whether role has been verified.
func (v *Verifier) IsVerified(role Role) bool {
	return v.State(role).Status == StatusVerified
}

// Begin marks role as pending while the user completes the external flow.
func (v *Verifier) Begin(role Role) {
	v.set(role, State{Status: StatusPending})
}

// Reject records that the user declined the request.
func (v *Verifier) Reject(role Role) {
	v.set(role, State{Status: StatusFailed, Error: "Verification rejected by user"})
}

// Attest checks an attestation token for role. On any failure the role is
// marked failed and the error is returned.
func (v *Verifier) Attest(role Role, token string) (State, error) {
	claims, err := v.parse(token)
	if err != nil {
		st := State{Status: StatusFailed, Error: "Verification error"}
		v.set(role, st)
		return st, fmt.Errorf("attestation for %s: %w", role, err)
	}

	var reason string
	switch {
	case !claims.Verified || claims.UniqueIdentifier == "":
		reason = "not verified"
	case claims.Scope != role.Scope():
		reason = fmt.Sprintf("scope %q, want %q", claims.Scope, role.Scope())
	case claims.MinAge < role.MinAge():
		reason = fmt.Sprintf("attested age %d below %d", claims.MinAge, role.MinAge())
	}
	if reason != "" {
		msg := "Age verification failed"
		if role == RoleRecipient {
			msg = "Identity verification failed"
		}
		st := State{Status: StatusFailed, Error: msg}
		v.set(role, st)
		return st, fmt.Errorf("attestation for %s: %s", role, reason)
	}

	st := State{
		Status:   StatusVerified,
		UniqueID: claims.UniqueIdentifier,
		Over18:   claims.MinAge >= 18,
	}
	v.set(role, st)
	return st, nil
}

// Skip marks role verified with a synthetic identifier. Only available when
// AllowSkip is set.
func (v *Verifier) Skip(role Role) (State, error) {
	if !v.cfg.AllowSkip {
		return v.State(role), ErrSkipDisabled
	}
	st := State{
		Status:   StatusVerified,
		UniqueID: fmt.Sprintf("skip-%s-%x", role, v.cfg.Now().UnixMilli()),
		Over18:   true,
	}
	v.set(role, st)
	return st, nil
}

// Reset returns both parties to unverified.
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = make(map[Role]State)
}

func (v *Verifier) set(role Role, st State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states[role] = st
}

func (v *Verifier) parse(token string) (*Claims, error) {
	if v.cfg.Key == nil {
		return nil, ErrNoKey
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.cfg.Now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.Key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ParsePublicKeyPEM parses an RSA or ECDSA public key in PEM form.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM(data)
	if err != nil {
		return nil, errors.New("attestation key is neither an RSA nor an ECDSA public key")
	}
	return key, nil
}
