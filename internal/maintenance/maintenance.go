package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jastip/internal/monitor"
	"jastip/internal/queue"
	"jastip/internal/repository"
	"jastip/internal/stocklock"
	"jastip/pkg/lock"
	"jastip/pkg/log"
)

// Config maintenance task configuration
type Config struct {
	// CleanupInterval how often expired stock locks are swept
	CleanupInterval time.Duration
	// SyncInterval how often locks are reconciled against order rows
	SyncInterval time.Duration
	// AutoRefundScanInterval how often stale orders are scanned
	AutoRefundScanInterval time.Duration
	// AutoRefundGrace how long an order may sit awaiting validation
	AutoRefundGrace time.Duration
	// ScanBatchSize max orders enqueued per auto refund scan
	ScanBatchSize int
	// InstanceID identifies this worker in the leader lock
	InstanceID string
}

// Runner owns the periodic tasks that keep the in-memory lock table
// bounded and consistent with persisted order state. Each task run is
// guarded by a Redis leader lock so only one worker instance sweeps
// at a time.
type Runner struct {
	locks     *stocklock.Service
	orderRepo repository.OrderRepository
	producer  *queue.Producer
	redis     *redis.Client
	metrics   *monitor.Metrics
	cfg       Config
}

// NewRunner creates a maintenance runner
func NewRunner(
	locks *stocklock.Service,
	orderRepo repository.OrderRepository,
	producer *queue.Producer,
	redisClient *redis.Client,
	metrics *monitor.Metrics,
	cfg Config,
) *Runner {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 15 * time.Minute
	}
	if cfg.AutoRefundScanInterval == 0 {
		cfg.AutoRefundScanInterval = time.Hour
	}
	if cfg.AutoRefundGrace == 0 {
		cfg.AutoRefundGrace = 24 * time.Hour
	}
	if cfg.ScanBatchSize == 0 {
		cfg.ScanBatchSize = 100
	}
	return &Runner{
		locks:     locks,
		orderRepo: orderRepo,
		producer:  producer,
		redis:     redisClient,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Start launches the periodic tasks. Blocks until the context is
// cancelled.
func (r *Runner) Start(ctx context.Context) {
	log.WithFields(map[string]interface{}{
		"cleanup_interval":   r.cfg.CleanupInterval.String(),
		"sync_interval":      r.cfg.SyncInterval.String(),
		"auto_refund_scan":   r.cfg.AutoRefundScanInterval.String(),
		"auto_refund_grace":  r.cfg.AutoRefundGrace.String(),
	}).Info("Maintenance runner started")

	go r.runPeriodic(ctx, "lock_cleanup", r.cfg.CleanupInterval, r.CleanupLocks)
	go r.runPeriodic(ctx, "lock_sync", r.cfg.SyncInterval, r.ReconcileLocks)
	go r.runPeriodic(ctx, "auto_refund_scan", r.cfg.AutoRefundScanInterval, r.ScanStaleOrders)

	<-ctx.Done()
	log.Info("Maintenance runner stopped")
}

func (r *Runner) runPeriodic(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, task)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, task func(context.Context) error) {
	release, ok := r.acquireLeader(ctx, name)
	if !ok {
		return
	}
	defer release()

	if err := task(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"task":  name,
			"error": err.Error(),
		}).Error("Maintenance task failed")
		r.metrics.ObserveMaintenance(name, "failed")
		return
	}
	r.metrics.ObserveMaintenance(name, "completed")
}

// acquireLeader takes the per-task leader lock. Without Redis the
// runner assumes a single instance and proceeds.
func (r *Runner) acquireLeader(ctx context.Context, name string) (func(), bool) {
	if r.redis == nil {
		return func() {}, true
	}

	l := lock.NewRedisLock(r.redis, fmt.Sprintf("maintenance:%s", name), r.cfg.InstanceID, 5*time.Minute)
	if err := l.Lock(ctx); err != nil {
		if !errors.Is(err, lock.ErrLockFailed) {
			log.WithFields(map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			}).Warn("Leader lock error, skipping maintenance run")
		}
		return nil, false
	}

	return func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrLockNotHeld) {
			log.WithFields(map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			}).Warn("Failed to release leader lock")
		}
	}, true
}

// CleanupLocks sweeps expired stock locks and refreshes lock metrics
func (r *Runner) CleanupLocks(ctx context.Context) error {
	removed := r.locks.CleanupExpired()

	stats := r.locks.GetMemoryStats()
	r.metrics.SetStockLocks("active", stats.ActiveLocks)
	r.metrics.SetStockLocks("expired_unswept", stats.ExpiredUnswept)

	log.WithFields(map[string]interface{}{
		"removed":           removed,
		"active_locks":      stats.ActiveLocks,
		"distinct_products": stats.DistinctProducts,
		"estimated_bytes":   stats.EstimatedBytes,
	}).Info("Stock lock cleanup completed")
	return nil
}

// ReconcileLocks cross-references active locks against orders that
// should still hold a reservation. Drift is logged, never
// auto-corrected: the persisted order row is the source of truth and
// a human decides what a mismatch means.
func (r *Runner) ReconcileLocks(ctx context.Context) error {
	holders, err := r.orderRepo.ListReservationHolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reservation holders: %w", err)
	}

	holderSet := make(map[uint64]bool, len(holders))
	for _, o := range holders {
		holderSet[o.ID] = true
	}

	lockedSet := make(map[uint64]bool)
	for _, orderID := range r.locks.ActiveOrderIDs() {
		lockedSet[orderID] = true
	}

	missingLocks := 0
	for _, o := range holders {
		if !lockedSet[o.ID] {
			missingLocks++
			log.WithFields(map[string]interface{}{
				"order_id": o.ID,
				"order_no": o.OrderNo,
				"status":   o.StatusName(),
			}).Warn("Order holds a reservation state but no active stock lock")
		}
	}

	orphanLocks := 0
	for orderID := range lockedSet {
		if !holderSet[orderID] {
			orphanLocks++
			log.WithFields(map[string]interface{}{
				"order_id": orderID,
			}).Warn("Active stock lock without a reservation-holding order")
		}
	}

	log.WithFields(map[string]interface{}{
		"holders":       len(holders),
		"active_locks":  len(lockedSet),
		"missing_locks": missingLocks,
		"orphan_locks":  orphanLocks,
	}).Info("Stock lock reconciliation completed")
	return nil
}

// ScanStaleOrders enqueues auto refund jobs for orders stuck awaiting
// validation past the grace period. Best effort, failed enqueues are
// skipped.
func (r *Runner) ScanStaleOrders(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.AutoRefundGrace)

	stale, err := r.orderRepo.ListStaleAwaitingValidation(ctx, cutoff, r.cfg.ScanBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	orderIDs := make([]uint64, 0, len(stale))
	for _, o := range stale {
		orderIDs = append(orderIDs, o.ID)
	}

	enqueued := r.producer.BatchEnqueueAutoRefund(ctx, orderIDs)
	log.WithFields(map[string]interface{}{
		"stale":    len(stale),
		"enqueued": len(enqueued),
	}).Info("Auto refund scan completed")
	return nil
}
