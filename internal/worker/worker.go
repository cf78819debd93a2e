package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"jastip/internal/monitor"
	"jastip/internal/queue"
	"jastip/pkg/log"
)

// Config worker loop configuration
type Config struct {
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Status worker status snapshot for health checks
type Status struct {
	Running    bool      `json:"running"`
	LastPollAt time.Time `json:"last_poll_at"`
	Processed  int64     `json:"processed"`
	Failed     int64     `json:"failed"`
	InFlight   int64     `json:"in_flight"`
}

// Worker leases jobs and dispatches them to handlers with bounded
// concurrency. Several workers may run in parallel processes, the
// store's lease exclusivity is the only coordination between them.
type Worker struct {
	queue    *queue.Service
	handlers *Handlers
	metrics  *monitor.Metrics
	cfg      Config

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	stopCh chan struct{}

	running   atomic.Bool
	lastPoll  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New creates a worker
func New(queueService *queue.Service, handlers *Handlers, metrics *monitor.Metrics, cfg Config) *Worker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 25 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Worker{
		queue:    queueService,
		handlers: handlers,
		metrics:  metrics,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the poll loop until the context is cancelled or Stop is
// called, then waits (bounded) for in-flight handlers. Jobs that do
// not finish in time stay leased and reappear after the visibility
// timeout, another worker will pick them up.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	log.WithFields(map[string]interface{}{
		"batch_size":  w.cfg.BatchSize,
		"concurrency": w.cfg.Concurrency,
	}).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-w.stopCh:
			w.drain()
			return
		default:
		}

		msgs, err := w.queue.Lease(ctx, w.cfg.BatchSize)
		w.lastPoll.Store(time.Now().UnixNano())

		if err != nil {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Error("Failed to lease messages")
			w.sleep(ctx, time.Second)
			continue
		}

		if len(msgs) == 0 {
			// Empty queue, back off briefly instead of hot-spinning.
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		for _, msg := range msgs {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				// Shutting down mid-batch, unprocessed leases expire
				// on their own.
				break
			}
			w.wg.Add(1)
			w.inFlight.Add(1)
			go w.process(ctx, msg)
		}
		// Jobs were found, re-poll immediately to drain bursts.
	}
}

// Stop signals the loop to exit
func (w *Worker) Stop() {
	close(w.stopCh)
}

// GetStatus returns a status snapshot
func (w *Worker) GetStatus() Status {
	var lastPoll time.Time
	if nanos := w.lastPoll.Load(); nanos > 0 {
		lastPoll = time.Unix(0, nanos)
	}
	return Status{
		Running:    w.running.Load(),
		LastPollAt: lastPoll,
		Processed:  w.processed.Load(),
		Failed:     w.failed.Load(),
		InFlight:   w.inFlight.Load(),
	}
}

func (w *Worker) process(ctx context.Context, msg *queue.Message) {
	defer w.wg.Done()
	defer w.sem.Release(1)
	defer w.inFlight.Add(-1)

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	defer cancel()

	err := w.handlers.Dispatch(hctx, msg)
	duration := time.Since(start)

	if err == nil {
		if ackErr := w.queue.Acknowledge(context.WithoutCancel(ctx), msg); ackErr != nil {
			// The lease will expire and the job redelivers, handlers
			// are idempotent so this only costs a duplicate run.
			log.WithFields(map[string]interface{}{
				"message_id": msg.ID,
				"error":      ackErr.Error(),
			}).Error("Failed to acknowledge message")
		}
		w.processed.Add(1)
		w.metrics.ObserveJob(string(msg.Type), "completed", duration)
		return
	}

	w.failed.Add(1)
	log.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"type":       msg.Type,
		"retry":      msg.RetryCount,
		"error":      err.Error(),
	}).Warn("Job handler failed")

	// Requeue bookkeeping must survive the handler's expired context.
	cleanupCtx := context.WithoutCancel(ctx)

	if queue.IsPermanent(err) {
		if dlErr := w.queue.DeadLetter(cleanupCtx, msg, err); dlErr != nil {
			log.WithFields(map[string]interface{}{
				"message_id": msg.ID,
				"error":      dlErr.Error(),
			}).Error("Failed to dead-letter message")
		}
		w.metrics.ObserveJob(string(msg.Type), "dead_lettered", duration)
		return
	}

	if rqErr := w.queue.RequeueWithBackoff(cleanupCtx, msg, err); rqErr != nil {
		log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"error":      rqErr.Error(),
		}).Error("Failed to requeue message")
	}
	w.metrics.ObserveJob(string(msg.Type), "failed", duration)
}

// drain waits for in-flight handlers, bounded by the shutdown timeout
func (w *Worker) drain() {
	log.Info("Worker stopping, waiting for in-flight jobs")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Worker stopped cleanly")
	case <-time.After(w.cfg.ShutdownTimeout):
		log.WithFields(map[string]interface{}{
			"in_flight": w.inFlight.Load(),
		}).Warn("Shutdown timeout reached, leaving jobs to visibility redelivery")
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}
