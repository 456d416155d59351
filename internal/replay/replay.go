package replay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard provides at-most-once admission for webhook payloads within a TTL
// window, backed by Redis SetNX. Duplicate deliveries inside the window are
// rejected; idempotency beyond the window is the persistence layer's job.
type Guard struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

// Acquire returns true when key has not been seen within the TTL window.
func (g Guard) Acquire(ctx context.Context, key string) (bool, error) {
	if g.Client == nil {
		return false, errors.New("replay: redis client not configured")
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return g.Client.SetNX(ctx, g.Prefix+key, "1", ttl).Result()
}

// Release drops an acquired key so the sender's redelivery of the same
// payload is admitted again. Called when processing fails after admission.
func (g Guard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return errors.New("replay: redis client not configured")
	}
	return g.Client.Del(ctx, g.Prefix+key).Err()
}
