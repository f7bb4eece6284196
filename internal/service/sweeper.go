package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
	sweeperLockKey       = "sweeper:reservations"
)

// Locker grants a short lease so that only one process sweeps at a time.
// Sweeping concurrently is still correct; the lease only avoids wasted
// work.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type expirer interface {
	Expire(ctx context.Context, id string) (model.Reservation, error)
}

// Sweeper periodically expires pending reservations whose hold lapsed.
type Sweeper struct {
	ledger   ReservationLedger
	expirer  expirer
	clock    clock.Clock
	log      *slog.Logger
	locker   Locker
	interval time.Duration
	batch    int
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Locker    Locker // optional
	Logger    *slog.Logger
}

func NewSweeper(ledger ReservationLedger, reservations *ReservationService, clk clock.Clock, cfg SweeperConfig) *Sweeper {
	return newSweeper(ledger, reservations, clk, cfg)
}

func newSweeper(ledger ReservationLedger, exp expirer, clk clock.Clock, cfg SweeperConfig) *Sweeper {
	sw := &Sweeper{
		ledger:   ledger,
		expirer:  exp,
		clock:    clk,
		log:      cfg.Logger,
		locker:   cfg.Locker,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
	if sw.log == nil {
		sw.log = slog.Default()
	}
	if sw.interval <= 0 {
		sw.interval = defaultSweepInterval
	}
	if sw.batch <= 0 {
		sw.batch = defaultSweepBatch
	}
	return sw
}

// SweepResult summarises one pass.
type SweepResult struct {
	Skipped bool // another process holds the lease
	Scanned int
	Expired int
	Failed  int
}

// SweepOnce expires one batch of lapsed reservations.  A failure on one
// reservation is logged and counted; the rest of the batch still runs and
// the failed one is picked up again on the next pass.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if sw.locker != nil {
		release, ok, err := sw.locker.Acquire(ctx, sweeperLockKey, sw.interval)
		if err != nil {
			sw.log.Warn("sweeper lease unavailable, sweeping without it", "error", err)
		} else if !ok {
			res.Skipped = true
			return res, nil
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					sw.log.Warn("release sweeper lease", "error", err)
				}
			}()
		}
	}

	due, err := sw.ledger.ListExpiredPending(ctx, sw.clock.Now(), sw.batch)
	if err != nil {
		return res, err
	}
	res.Scanned = len(due)
	for _, r := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		latest, err := sw.expirer.Expire(ctx, r.ID)
		if err != nil {
			res.Failed++
			sw.log.Warn("expire reservation failed", "reservation_id", r.ID, "error", err)
			continue
		}
		if latest.Status == model.ReservationExpired {
			res.Expired++
		}
	}
	if res.Scanned > 0 {
		sw.log.Info("sweep finished", "scanned", res.Scanned, "expired", res.Expired, "failed", res.Failed)
	}
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		if _, err := sw.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			sw.log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
