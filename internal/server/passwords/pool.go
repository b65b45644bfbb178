package passwords

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many hash or verify calls run at once. Callers wait for a
// slot with their own context.
type Pool struct {
	inner Hasher
	sem   *semaphore.Weighted
}

// NewPool wraps h; workers <= 0 means GOMAXPROCS.
func NewPool(h Hasher, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{inner: h, sem: semaphore.NewWeighted(int64(workers))}
}

func (p *Pool) Hash(ctx context.Context, plain string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	return p.inner.Hash(ctx, plain)
}

func (p *Pool) Verify(ctx context.Context, plain, digest string) bool {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer p.sem.Release(1)

	return p.inner.Verify(ctx, plain, digest)
}
