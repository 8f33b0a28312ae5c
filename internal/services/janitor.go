package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// Janitor periodically removes expired idempotency records. Cache entries
// expire lazily on read and are only swept here when CacheInterval is set;
// otherwise POST /cache/purge is the way to reclaim them.
type Janitor struct {
	DB            *gorm.DB
	Cache         *cache.Store
	Interval      time.Duration
	CacheInterval time.Duration // 0 disables the cache sweep
	Log           zerolog.Logger
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var cacheTick <-chan time.Time
	if j.cacheSweepEnabled() {
		ct := time.NewTicker(j.CacheInterval)
		defer ct.Stop()
		cacheTick = ct.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.purgeIdempotency(ctx)
		case <-cacheTick:
			j.purgeCache(ctx)
		}
	}
}

// Sweep runs one cleanup pass over everything the janitor is configured for.
func (j *Janitor) Sweep(ctx context.Context) {
	j.purgeIdempotency(ctx)
	if j.cacheSweepEnabled() {
		j.purgeCache(ctx)
	}
}

func (j *Janitor) cacheSweepEnabled() bool {
	return j.Cache != nil && j.CacheInterval > 0
}

func (j *Janitor) purgeIdempotency(ctx context.Context) {
	if j.DB == nil {
		return
	}
	n, err := repo.PurgeIdempotency(ctx, j.DB, time.Now().UTC())
	if err != nil {
		j.Log.Warn().Err(err).Msg("idempotency purge failed")
	} else if n > 0 {
		j.Log.Debug().Int64("removed", n).Msg("idempotency records purged")
	}
}

func (j *Janitor) purgeCache(ctx context.Context) {
	n, err := j.Cache.PurgeExpired(ctx)
	if err != nil {
		j.Log.Warn().Err(err).Msg("cache purge failed")
	} else if n > 0 {
		j.Log.Debug().Int64("removed", n).Msg("expired cache entries purged")
	}
}
