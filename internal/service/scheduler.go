package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

const leaderLockKey = "scheduler:leader"

// SchedulerConfig controls the lifecycle sweeper.
type SchedulerConfig struct {
	// Operator is the authority the scheduler acts as. Only markets owned by
	// it are transitioned.
	Operator    string
	Interval    time.Duration
	BatchSize   int
	Parallelism int
	// AutoResolve derives winners for Settled feed-driven markets.
	AutoResolve bool
}

// SweepResult counts the transitions performed by one sweep.
type SweepResult struct {
	Closed   int
	Settled  int
	Resolved int
	Failed   int
	Skipped  bool
}

// Scheduler drives due markets through close, settle, and (optionally)
// resolve on a fixed interval. With a lock manager only one replica sweeps
// at a time.
type Scheduler struct {
	ledger domain.Ledger
	svc    *SettlementService
	locks  domain.LockManager
	cfg    SchedulerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a Scheduler. locks may be nil for a single replica.
func NewScheduler(ledger domain.Ledger, svc *SettlementService, locks domain.LockManager, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Scheduler{
		ledger: ledger,
		svc:    svc,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("operator", s.cfg.Operator),
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("auto_resolve", s.cfg.AutoResolve),
	)
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Per-market failures are logged and counted; the
// market is retried on the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, leaderLockKey, 2*s.cfg.Interval)
		if errors.Is(err, domain.ErrLockHeld) {
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, err
		}
		defer unlock()
	}

	now := s.now().UTC()
	var failed atomic.Int64

	closed, err := s.each(ctx, domain.MarketStatusOpened, now, &failed, func(ctx context.Context, m domain.Market) (bool, error) {
		_, err := s.svc.CloseMarket(ctx, s.cfg.Operator, m.ID, m.Feeds())
		return err == nil, err
	})
	if err != nil {
		return res, err
	}
	res.Closed = closed

	settled, err := s.each(ctx, domain.MarketStatusClosed, now, &failed, func(ctx context.Context, m domain.Market) (bool, error) {
		// Custom markets need an operator-chosen outcome.
		if !m.Type.FeedDriven() {
			return false, nil
		}
		_, err := s.svc.SettleMarket(ctx, s.cfg.Operator, m.ID, m.Feeds(), nil)
		return err == nil, err
	})
	if err != nil {
		return res, err
	}
	res.Settled = settled

	if s.cfg.AutoResolve {
		resolved, err := s.each(ctx, domain.MarketStatusSettled, now, &failed, func(ctx context.Context, m domain.Market) (bool, error) {
			if !m.Type.FeedDriven() || m.WinningOutcome != nil {
				return false, nil
			}
			_, err := s.svc.ResolveFromFeeds(ctx, s.cfg.Operator, m.ID)
			return err == nil, err
		})
		if err != nil {
			return res, err
		}
		res.Resolved = resolved
	}

	res.Failed = int(failed.Load())
	if res.Closed+res.Settled+res.Resolved+res.Failed > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("closed", res.Closed),
			slog.Int("settled", res.Settled),
			slog.Int("resolved", res.Resolved),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// each applies fn to the operator's due markets in status, in parallel.
func (s *Scheduler) each(
	ctx context.Context,
	status domain.MarketStatus,
	now time.Time,
	failed *atomic.Int64,
	fn func(ctx context.Context, m domain.Market) (bool, error),
) (int, error) {
	due, err := s.ledger.ListDue(ctx, status, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, m := range due {
		if m.Authority != s.cfg.Operator {
			continue
		}
		g.Go(func() error {
			ok, err := fn(gctx, m)
			if err != nil {
				failed.Add(1)
				s.logger.WarnContext(gctx, "scheduled transition failed",
					slog.String("market_id", m.ID),
					slog.String("status", string(m.Status)),
					slog.String("code", domain.CodeOf(err)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if ok {
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(done.Load()), ctx.Err()
}
