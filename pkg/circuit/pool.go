package circuit

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/semaphore"
)

// ThreadsPerProof is how many cores one proof is expected to occupy.
const ThreadsPerProof = 2

// Pool bounds how many proofs run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with size slots. size <= 0 uses DefaultPoolSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// DefaultPoolSize is the logical core count divided by ThreadsPerProof,
// at least one.
func DefaultPoolSize() int {
	n, err := cpu.Counts(true)
	if err != nil || n < ThreadsPerProof {
		return 1
	}
	return n / ThreadsPerProof
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}
