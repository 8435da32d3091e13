package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suffix-labs/zkpay/pkg/field"
)

func TestParse(t *testing.T) {
	req, err := Parse("zkpay:111?amount=1.5&label=Dr%20Smith&message=session%2012")
	require.NoError(t, err)
	assert.Equal(t, "111", req.RecipientID)
	assert.Equal(t, "1500000000000000000", req.Amount)
	require.NotNil(t, req.Label)
	assert.Equal(t, "Dr Smith", *req.Label)
	require.NotNil(t, req.Message)
	assert.Equal(t, "session 12", *req.Message)
}

func TestParseWithoutSchemeOrAmount(t *testing.T) {
	req, err := Parse("42")
	require.NoError(t, err)
	assert.Equal(t, "42", req.RecipientID)
	assert.Empty(t, req.Amount)
	assert.Nil(t, req.Label)
	assert.Equal(t, "zkpay:42", req.Encode())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"missing recipient", "zkpay:?amount=1"},
		{"non-numeric recipient", "zkpay:abc?amount=1"},
		{"bad amount", "zkpay:1?amount=1.2.3"},
		{"negative amount", "zkpay:1?amount=-1"},
		{"unknown parameter", "zkpay:1?memo=hi"},
		{"duplicate amount", "zkpay:1?amount=1&amount=2"},
		{"bad escape", "zkpay:1?label=%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.uri)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestParseAmountError(t *testing.T) {
	_, err := Parse("zkpay:1?amount=x")
	assert.ErrorIs(t, err, field.ErrInvalidAmount)
}

func TestEncodeRoundTrip(t *testing.T) {
	label := "Dr Smith"
	req := &Request{RecipientID: "111", Amount: "100000000000000000", Label: &label}

	uri := req.Encode()
	assert.Equal(t, "zkpay:111?amount=0.1&label=Dr+Smith", uri)

	back, err := Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, req, back)
}

func TestDisplayAmount(t *testing.T) {
	assert.Equal(t, "2", (&Request{Amount: "2000000000000000000"}).DisplayAmount())
	assert.Equal(t, "1.5", (&Request{Amount: "1500000000000000000"}).DisplayAmount())
	assert.Equal(t, "", (&Request{}).DisplayAmount())
}

func TestEncodeKeepsFullPrecision(t *testing.T) {
	req, err := Parse("zkpay:111?amount=0.12345")
	require.NoError(t, err)
	assert.Equal(t, "123450000000000000", req.Amount)
	assert.Equal(t, "0.12345", req.DisplayAmount())

	uri := req.Encode()
	assert.Equal(t, "zkpay:111?amount=0.12345", uri)

	back, err := Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, req.Amount, back.Amount)

	tiny := &Request{RecipientID: "7", Amount: "1"}
	back, err = Parse(tiny.Encode())
	require.NoError(t, err)
	assert.Equal(t, "1", back.Amount)
}
