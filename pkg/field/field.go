// Package field converts between random byte material, decimal field
// elements produced by the proving circuit, and the ledger's native field.
//
// The proving circuit works over a large prime field and emits its public
// outputs as unbounded decimal strings. The ledger stores felts modulo
//
//	P = 2^251 + 17·2^192 + 1
//
// so every value handed to the ledger must be reduced first. All arithmetic
// here is exact big-integer arithmetic.
package field

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// RandomBytes is the amount of entropy drawn for a fresh field element.
// 248 bits stays below the BN254 scalar modulus, so the circuit never
// silently reduces a secret.
const RandomBytes = 31

// LedgerModulus is the ledger's native prime, 2^251 + 17·2^192 + 1.
var LedgerModulus = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
	return p.Add(p, big.NewInt(1))
}()

// RandomBound is the exclusive upper bound of RandomFieldElement, 2^248.
var RandomBound = new(big.Int).Lsh(big.NewInt(1), 8*RandomBytes)

// RandomFieldElement draws 31 bytes from crypto/rand and returns them as a
// base-10 string.
func RandomFieldElement() (string, error) {
	return RandomFieldElementFrom(rand.Reader)
}

// RandomFieldElementFrom is RandomFieldElement with an explicit entropy source.
func RandomFieldElementFrom(r io.Reader) (string, error) {
	var buf [RandomBytes]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}
	return new(big.Int).SetBytes(buf[:]).String(), nil
}

// ReduceToLedgerField parses a non-negative decimal integer of any width and
// returns its remainder modulo LedgerModulus as lowercase 0x-prefixed hex.
func ReduceToLedgerField(value string) (string, error) {
	n, err := parseDecimal(value)
	if err != nil {
		return "", err
	}
	return FormatLedger(n.Mod(n, LedgerModulus)), nil
}

// FormatLedger renders n as a 0x-prefixed lowercase hex string. It does not
// reduce; callers pass values already below LedgerModulus.
func FormatLedger(n *big.Int) string {
	return "0x" + n.Text(16)
}

// ParseFieldValue accepts either a decimal string or a 0x-prefixed hex
// string and returns the integer it denotes.
func ParseFieldValue(value string) (*big.Int, error) {
	if rest, ok := cutHexPrefix(value); ok {
		if rest == "" || !isHex(rest) {
			return nil, malformed(value, "invalid hex digits")
		}
		n, _ := new(big.Int).SetString(rest, 16)
		return n, nil
	}
	return parseDecimal(value)
}

// IsLedgerElement reports whether value parses and lies in [0, LedgerModulus).
func IsLedgerElement(value string) bool {
	n, err := ParseFieldValue(value)
	return err == nil && n.Cmp(LedgerModulus) < 0
}

// Equal reports whether a and b denote the same ledger field element.
func Equal(a, b string) (bool, error) {
	x, err := ParseFieldValue(a)
	if err != nil {
		return false, err
	}
	y, err := ParseFieldValue(b)
	if err != nil {
		return false, err
	}
	x.Mod(x, LedgerModulus)
	y.Mod(y, LedgerModulus)
	return x.Cmp(y) == 0, nil
}

// IsDecimal reports whether s is a non-empty string of ASCII digits.
func IsDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseDecimal(value string) (*big.Int, error) {
	if !IsDecimal(value) {
		return nil, malformed(value, "not a non-negative decimal integer")
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, malformed(value, "not a non-negative decimal integer")
	}
	return n, nil
}

func cutHexPrefix(s string) (string, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return s, false
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
