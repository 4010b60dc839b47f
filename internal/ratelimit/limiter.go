// Package ratelimit meters booth traffic with weighted token buckets. Each
// subject owns a bucket of Capacity tokens refilled evenly over Window; an
// operation spends Cost tokens.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const DefaultKeyPrefix = "flagbooth:ratelimit"

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter spends cost tokens from subject's bucket.
type Limiter interface {
	Allow(ctx context.Context, subject string, cost int64) (Decision, error)
}

type bucketConfig struct {
	capacity int64
	window   time.Duration
}

func newBucketConfig(capacity int, window time.Duration) (bucketConfig, error) {
	if capacity <= 0 {
		return bucketConfig{}, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return bucketConfig{}, fmt.Errorf("window must be positive")
	}
	return bucketConfig{capacity: int64(capacity), window: window}, nil
}

// cost bounds n to [1, capacity] so an oversized request drains a full bucket
// instead of waiting forever.
func (c bucketConfig) cost(n int64) int64 {
	return min(max(n, 1), c.capacity)
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}
