package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps how many pricing requests an operator may issue per minute.
// Live quote forms recompute on every change, so the limit is per operator
// rather than per endpoint.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(operatorID string) string {
	return fmt.Sprintf("ratelimit:operator:%s", operatorID)
}

// Allow consumes one request from the operator's budget.
func (l *Limiter) Allow(ctx context.Context, operatorID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(operatorID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, operatorID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(operatorID))
}
