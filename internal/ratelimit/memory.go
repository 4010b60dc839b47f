package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryTokenBucket is a per-process limiter for single-instance deployments
// such as a kiosk running the API next to the booth.
type MemoryTokenBucket struct {
	bucket bucketConfig
	limit  rate.Limit
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	bucket, err := newBucketConfig(capacity, window)
	if err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		bucket:   bucket,
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (l *MemoryTokenBucket) limiter(subject string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(l.limit, int(l.bucket.capacity))
		l.limiters[subject] = lim
	}
	return lim
}

func (l *MemoryTokenBucket) Allow(_ context.Context, subject string, cost int64) (Decision, error) {
	lim := l.limiter(normalizeSubject(subject))
	now := l.now()

	r := lim.ReserveN(now, int(l.bucket.cost(cost)))
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}

	remaining := int64(math.Floor(lim.TokensAt(now)))
	return Decision{Allowed: true, Remaining: max(0, remaining)}, nil
}
