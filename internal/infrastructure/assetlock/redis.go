package assetlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fractions-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "assetlock:"

// Only the owner token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Only the owner token may extend the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a cross-instance Locker using SET NX PX. A held asset is rejected
// with domain.ErrAssetBusy instead of queueing. The key is renewed every
// RenewEvery while held, so TTL only bounds how long a crashed holder blocks
// the asset.
type Redis struct {
	Rdb        *redis.Client
	TTL        time.Duration
	RenewEvery time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{Rdb: rdb, TTL: ttl, RenewEvery: ttl / 3}
}

func (r *Redis) renewEvery() time.Duration {
	if r.RenewEvery <= 0 || r.RenewEvery >= r.TTL {
		return r.TTL / 3
	}
	return r.RenewEvery
}

func (r *Redis) Lock(ctx context.Context, assetID string) (func(), error) {
	key := keyPrefix + assetID
	token := uuid.New().String()
	ok, err := r.Rdb.SetNX(ctx, key, token, r.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire asset lock: %w", err)
	}
	if !ok {
		return nil, domain.Wrap(domain.ErrAssetBusy, "asset %s", assetID)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, token, assetID, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release even when the caller's context has been cancelled.
			if err := releaseScript.Run(context.Background(), r.Rdb, []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("asset_id", assetID).Msg("Failed to release asset lock")
			}
		})
	}, nil
}

// renew extends the key until stop closes or the token no longer owns it.
func (r *Redis) renew(key, token, assetID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.renewEvery())
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			n, err := renewScript.Run(context.Background(), r.Rdb, []string{key}, token, r.TTL.Milliseconds()).Int()
			if err != nil {
				log.Warn().Err(err).Str("asset_id", assetID).Msg("Failed to renew asset lock")
				continue
			}
			if n == 0 {
				log.Error().Str("asset_id", assetID).Msg("Asset lock lost before release")
				return
			}
		}
	}
}
