package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func attestation(role Role, age int) Claims {
	return Claims{
		Verified:         true,
		UniqueIdentifier: "uid-1234",
		MinAge:           age,
		Scope:            role.Scope(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "attest.example",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
}

func signES256(t *testing.T, key *ecdsa.PrivateKey, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newTestVerifier(t *testing.T, allowSkip bool) (*Verifier, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	v := NewVerifier(Config{
		Key:       &key.PublicKey,
		Issuer:    "attest.example",
		AllowSkip: allowSkip,
		Now:       func() time.Time { return testNow },
	})
	return v, key
}

func TestAttest(t *testing.T) {
	v, key := newTestVerifier(t, false)

	assert.Equal(t, StatusUnverified, v.State(RolePatient).Status)
	v.Begin(RolePatient)
	assert.Equal(t, StatusPending, v.State(RolePatient).Status)

	st, err := v.Attest(RolePatient, signES256(t, key, attestation(RolePatient, 18)))
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, st.Status)
	assert.Equal(t, "uid-1234", st.UniqueID)
	assert.True(t, st.Over18)
	assert.True(t, v.IsVerified(RolePatient))
	assert.False(t, v.IsVerified(RoleRecipient))
}

func TestAttestFailures(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		claims func(c *Claims)
		msg    string
	}{
		{"recipient under 21", RoleRecipient, func(c *Claims) { c.MinAge = 18 }, "Identity verification failed"},
		{"not verified", RolePatient, func(c *Claims) { c.Verified = false }, "Age verification failed"},
		{"missing unique id", RolePatient, func(c *Claims) { c.UniqueIdentifier = "" }, "Age verification failed"},
		{"wrong scope", RolePatient, func(c *Claims) { c.Scope = RoleRecipient.Scope() }, "Age verification failed"},
		{"expired", RolePatient, func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute)) }, "Verification error"},
		{"no expiry", RolePatient, func(c *Claims) { c.ExpiresAt = nil }, "Verification error"},
		{"wrong issuer", RolePatient, func(c *Claims) { c.Issuer = "evil.example" }, "Verification error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, key := newTestVerifier(t, false)
			c := attestation(tt.role, tt.role.MinAge())
			tt.claims(&c)

			st, err := v.Attest(tt.role, signES256(t, key, c))
			assert.Error(t, err)
			assert.Equal(t, StatusFailed, st.Status)
			assert.Equal(t, tt.msg, st.Error)
			assert.Equal(t, st, v.State(tt.role))
		})
	}
}

func TestAttestWrongKey(t *testing.T) {
	v, _ := newTestVerifier(t, false)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = v.Attest(RolePatient, signES256(t, other, attestation(RolePatient, 18)))
	assert.Error(t, err)
	assert.False(t, v.IsVerified(RolePatient))
}

func TestAttestRejectsHMAC(t *testing.T) {
	v, _ := newTestVerifier(t, false)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, attestation(RolePatient, 18)).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Attest(RolePatient, token)
	assert.Error(t, err)
}

func TestAttestRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub, err := ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	require.NoError(t, err)

	v := NewVerifier(Config{Key: pub, Now: func() time.Time { return testNow }})
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, attestation(RoleRecipient, 21)).SignedString(key)
	require.NoError(t, err)

	st, err := v.Attest(RoleRecipient, token)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, st.Status)
}

func TestAttestWithoutKey(t *testing.T) {
	v := NewVerifier(Config{})
	_, err := v.Attest(RolePatient, "a.b.c")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSkip(t *testing.T) {
	v, _ := newTestVerifier(t, false)
	_, err := v.Skip(RolePatient)
	assert.ErrorIs(t, err, ErrSkipDisabled)
	assert.False(t, v.IsVerified(RolePatient))

	v, _ = newTestVerifier(t, true)
	st, err := v.Skip(RoleRecipient)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, st.Status)
	assert.Contains(t, st.UniqueID, "skip-recipient-")
	assert.True(t, v.IsVerified(RoleRecipient))
}

func TestRejectAndReset(t *testing.T) {
	v, _ := newTestVerifier(t, true)
	v.Reject(RolePatient)
	assert.Equal(t, State{Status: StatusFailed, Error: "Verification rejected by user"}, v.State(RolePatient))

	_, err := v.Skip(RoleRecipient)
	require.NoError(t, err)
	v.Reset()
	assert.Equal(t, State{}, v.State(RolePatient))
	assert.Equal(t, State{}, v.State(RoleRecipient))
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM([]byte("not a key"))
	assert.Error(t, err)
}
