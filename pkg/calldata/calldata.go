// Package calldata turns a proof and its public inputs into ledger call
// arguments.
//
// Every argument is a ledger field element rendered as 0x hex. Layout:
//
//	[0]    n = number of elements that follow (format prefix)
//	[1]    proof length in bytes
//	[2..]  proof bytes packed big-endian into 31-byte words
//	[..]   number of public inputs
//	[..]   each public input as (low 128 bits, high 128 bits)
//	[last] verifying key digest (BLAKE2b-256, first 31 bytes)
//
// The prefix describes the encoding itself and is not a contract argument;
// StripPrefix removes it before the arguments are submitted.
package calldata

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sync"
	"sync/atomic"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/suffix-labs/zkpay/pkg/field"
)

// WordBytes is how many proof bytes fit in one ledger element.
const WordBytes = 31

// VKDigestPersonalization personalizes the verifying key hash (16 bytes).
const VKDigestPersonalization = "zkpay_vk_digest_"

var (
	// ErrNotInitialized is returned by Build before Init.
	ErrNotInitialized = errors.New("calldata encoder not initialized")

	// ErrMalformed is returned by Parse and StripPrefix on bad layouts.
	ErrMalformed = errors.New("malformed calldata")
)

var mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Encoder builds calldata. Init must be called once before Build; the
// encoder is safe for concurrent use afterwards.
type Encoder struct {
	once    sync.Once
	initErr error
	ready   atomic.Bool
}

// NewEncoder returns an uninitialized encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Init prepares the encoder. Later calls return the first call's result.
func (e *Encoder) Init(ctx context.Context) error {
	e.once.Do(func() {
		if err := ctx.Err(); err != nil {
			e.initErr = err
			return
		}
		// Fail early if the hash configuration is unusable.
		if _, err := newDigest(); err != nil {
			e.initErr = fmt.Errorf("blake2b unavailable: %w", err)
			return
		}
		e.ready.Store(true)
	})
	return e.initErr
}

// Build encodes proof bytes, decimal public inputs and the verifying key.
func (e *Encoder) Build(proof []byte, publicInputs []string, vk []byte) ([]string, error) {
	if !e.ready.Load() {
		return nil, ErrNotInitialized
	}
	if len(proof) == 0 {
		return nil, fmt.Errorf("%w: empty proof", ErrMalformed)
	}

	body := []string{hexInt(int64(len(proof)))}
	for off := 0; off < len(proof); off += WordBytes {
		end := min(off+WordBytes, len(proof))
		body = append(body, field.FormatLedger(new(big.Int).SetBytes(proof[off:end])))
	}

	body = append(body, hexInt(int64(len(publicInputs))))
	for _, in := range publicInputs {
		v, err := field.ParseFieldValue(in)
		if err != nil {
			return nil, fmt.Errorf("public input: %w", err)
		}
		if v.BitLen() > 256 {
			return nil, fmt.Errorf("%w: public input wider than 256 bits", ErrMalformed)
		}
		low := new(big.Int).And(v, mask128)
		high := new(big.Int).Rsh(v, 128)
		body = append(body, field.FormatLedger(low), field.FormatLedger(high))
	}

	digest, err := VKDigest(vk)
	if err != nil {
		return nil, err
	}
	body = append(body, digest)

	return append([]string{hexInt(int64(len(body)))}, body...), nil
}

// StripPrefix validates and removes the leading length element.
func StripPrefix(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	n, err := field.ParseFieldValue(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: prefix: %v", ErrMalformed, err)
	}
	if !n.IsInt64() || n.Int64() != int64(len(args)-1) {
		return nil, fmt.Errorf("%w: prefix %s does not match %d elements", ErrMalformed, args[0], len(args)-1)
	}
	return args[1:], nil
}

// VKDigest hashes a verifying key into a ledger field element.
func VKDigest(vk []byte) (string, error) {
	if len(vk) == 0 {
		return "", fmt.Errorf("%w: empty verifying key", ErrMalformed)
	}
	h, err := newDigest()
	if err != nil {
		return "", err
	}
	h.Write(vk)
	sum := h.Sum(nil)
	return field.FormatLedger(new(big.Int).SetBytes(sum[:WordBytes])), nil
}

// newDigest creates a personalized BLAKE2b-256 hash. The personalization is
// a separate parameter of the hash function, not a key.
func newDigest() (hash.Hash, error) {
	return blake2b.New(&blake2b.Config{Size: 32, Person: []byte(VKDigestPersonalization)})
}

func hexInt(n int64) string {
	return field.FormatLedger(big.NewInt(n))
}

// Decoded is calldata with its layout resolved.
type Decoded struct {
	Proof        []byte
	PublicInputs []string // decimal
	VKDigest     string
}

// Parse reverses Build on arguments that have already had their prefix
// stripped.
func Parse(args []string) (*Decoded, error) {
	r := reader{args: args}

	proofLen, err := r.count()
	if err != nil {
		return nil, err
	}
	if proofLen == 0 {
		return nil, fmt.Errorf("%w: empty proof", ErrMalformed)
	}
	proof := make([]byte, proofLen)
	for off := 0; off < proofLen; off += WordBytes {
		end := min(off+WordBytes, proofLen)
		w, err := r.next()
		if err != nil {
			return nil, err
		}
		if w.BitLen() > 8*(end-off) {
			return nil, fmt.Errorf("%w: proof word overflows", ErrMalformed)
		}
		w.FillBytes(proof[off:end])
	}

	nInputs, err := r.count()
	if err != nil {
		return nil, err
	}
	inputs := make([]string, 0, nInputs)
	for i := 0; i < nInputs; i++ {
		low, err := r.next()
		if err != nil {
			return nil, err
		}
		high, err := r.next()
		if err != nil {
			return nil, err
		}
		if low.BitLen() > 128 || high.BitLen() > 128 {
			return nil, fmt.Errorf("%w: public input limb overflows", ErrMalformed)
		}
		v := new(big.Int).Lsh(high, 128)
		inputs = append(inputs, v.Or(v, low).String())
	}

	digest, err := r.next()
	if err != nil {
		return nil, err
	}
	if r.pos != len(args) {
		return nil, fmt.Errorf("%w: %d trailing elements", ErrMalformed, len(args)-r.pos)
	}

	return &Decoded{Proof: proof, PublicInputs: inputs, VKDigest: field.FormatLedger(digest)}, nil
}

type reader struct {
	args []string
	pos  int
}

func (r *reader) next() (*big.Int, error) {
	if r.pos >= len(r.args) {
		return nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	v, err := field.ParseFieldValue(r.args[r.pos])
	if err != nil {
		return nil, fmt.Errorf("%w: element %d: %v", ErrMalformed, r.pos, err)
	}
	r.pos++
	return v, nil
}

// count reads a length element. Lengths are bounded by the number of
// arguments.
func (r *reader) count() (int, error) {
	v, err := r.next()
	if err != nil {
		return 0, err
	}
	limit := int64(len(r.args)) * WordBytes
	if !v.IsInt64() || v.Int64() > limit {
		return 0, fmt.Errorf("%w: length %s out of range", ErrMalformed, v)
	}
	return int(v.Int64()), nil
}
