package queuerisk

import (
	"context"
	"errors"
	"time"

	rediskey "kanban/pkg/redis"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

// Scheduler runs the risk scan for every tenant with queued cards on a fixed interval.
// A per-tenant redislock is held until its TTL after a successful scan, so replicas whose
// tickers fire within that window skip the tenant. The TTL must stay below the interval.
type Scheduler struct {
	scanner  *Scanner
	src      Source
	locker   *redislock.Client
	log      *zap.Logger
	interval time.Duration
	lockTTL  time.Duration
	limit    int
}

func NewScheduler(scanner *Scanner, src Source, locker *redislock.Client, interval, lockTTL time.Duration, limit int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		scanner:  scanner,
		src:      src,
		locker:   locker,
		log:      log,
		interval: interval,
		lockTTL:  lockTTL,
		limit:    limit,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("queue risk tick", zap.Error(err))
			}
		}
	}
}

// RunOnce scans each tenant whose lock it can obtain and returns how many tenants it scanned.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	tenants, err := s.src.TenantsWithTriggeredCards(ctx)
	if err != nil {
		return 0, err
	}
	scanned := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return scanned, ctx.Err()
		}
		ok, err := s.scanTenant(ctx, tenantID)
		if err != nil {
			s.log.Warn("queue risk scan failed", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		if ok {
			scanned++
		}
	}
	return scanned, nil
}

func (s *Scheduler) scanTenant(ctx context.Context, tenantID string) (bool, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, rediskey.QueueRiskLockKey(tenantID), s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.log.Debug("queue risk lock held elsewhere", zap.String("tenant_id", tenantID))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		res, err := s.scan(ctx, tenantID)
		if err != nil {
			// a failed scan frees the tenant for the next replica
			if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
				s.log.Warn("queue risk lock release", zap.String("tenant_id", tenantID), zap.Error(rerr))
			}
		}
		return res, err
	}
	return s.scan(ctx, tenantID)
}

func (s *Scheduler) scan(ctx context.Context, tenantID string) (bool, error) {
	res, err := s.scanner.Scan(ctx, tenantID, Options{Limit: s.limit, Emit: true})
	if err != nil {
		return false, err
	}
	s.log.Info("queue risk scan",
		zap.String("tenant_id", tenantID),
		zap.Int("flagged", res.TotalFlagged),
		zap.Int("events", res.EventsPublished),
	)
	return true, nil
}
