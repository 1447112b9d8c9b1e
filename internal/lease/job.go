package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pressledger/internal/config"
	"go.uber.org/fx"
)

const (
	keyJobLease     = "pressledger:lease:job:%s"
	defaultLeaseTTL = 5 * time.Minute
)

// JobLeases hands out cluster-wide leases for scheduler jobs. A nil or
// disabled JobLeases grants every lease, which is the single-instance mode.
type JobLeases struct {
	enabled bool
	client  *redis.Client
	locker  *Locker
	ttl     time.Duration
}

func NewJobLeases(lc fx.Lifecycle, cfg config.Config) *JobLeases {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}

	return NewJobLeasesWithClient(client, cfg.Scheduler.LeaseTTL)
}

func NewJobLeasesWithClient(client *redis.Client, ttl time.Duration) *JobLeases {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &JobLeases{
		enabled: true,
		client:  client,
		locker:  NewLocker(client),
		ttl:     ttl,
	}
}

func (l *JobLeases) Enabled() bool {
	return l != nil && l.enabled
}

// Acquire returns a release func when the lease was granted. ok is false when
// another instance holds it.
func (l *JobLeases) Acquire(ctx context.Context, job string) (release func(), ok bool, err error) {
	if !l.Enabled() {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyJobLease, strings.TrimSpace(job))
	token, ok, err := l.locker.TryLock(ctx, key, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		_ = l.locker.Release(context.WithoutCancel(ctx), key, token)
	}, true, nil
}
