package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const campaignLockTTL = 30 * time.Second

var (
	campaignMutexesMu sync.Mutex
	campaignMutexes   = make(map[uint]*sync.Mutex)
)

func campaignMutex(campaignID uint) *sync.Mutex {
	campaignMutexesMu.Lock()
	defer campaignMutexesMu.Unlock()
	mu, ok := campaignMutexes[campaignID]
	if !ok {
		mu = &sync.Mutex{}
		campaignMutexes[campaignID] = mu
	}
	return mu
}

// acquireCampaignLock takes the per-campaign mutual-exclusion lock guarding
// compilation and other single-writer operations. With a redis client it is a
// distributed SETNX lock with TTL; without one it degrades to an in-process
// mutex. The returned function releases the lock.
func acquireCampaignLock(ctx context.Context, rc *redis.Client, prefix string, campaignID uint) (func(), error) {
	if rc == nil {
		mu := campaignMutex(campaignID)
		mu.Lock()
		return mu.Unlock, nil
	}

	lockKey := fmt.Sprintf("%scampaign_lock:%d", prefix, campaignID)
	ok, err := rc.SetNX(ctx, lockKey, "1", campaignLockTTL).Result()
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOCK_FAILED", "Failed to acquire campaign lock", err)
	}
	if !ok {
		return nil, NewBusinessError("CAMPAIGN_LOCK_BUSY", "Another worker holds the campaign lock", errors.New("lock busy"))
	}
	return func() {
		_ = rc.Del(context.Background(), lockKey).Err()
	}, nil
}
