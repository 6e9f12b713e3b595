// Package scheduler keeps the session snapshot fresh in the background.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// Synchronizer is the session operation the refresher drives.
type Synchronizer interface {
	Synchronize(ctx context.Context) (*types.Snapshot, error)
}

// Refresher re-synchronizes on a fixed interval. A tick that fires while
// the previous refresh is still running is skipped.
type Refresher struct {
	syncer   Synchronizer
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRefresher creates a refresher. Each refresh is bounded by timeout,
// or by the interval when timeout is zero.
func NewRefresher(syncer Synchronizer, interval, timeout time.Duration, logger logging.Logger) (*Refresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	if timeout <= 0 {
		timeout = interval
	}
	cl := cronLogger{logger}
	return &Refresher{
		syncer:   syncer,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Start schedules the refresh job and starts the cron runner. Refreshes
// stop when ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("refresher already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), r.refresh)
	if err != nil {
		r.cancel()
		r.cancel = nil
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	r.logger.Info("Background refresh started", "interval", r.interval)

	go func() {
		<-r.ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop removes the job and waits for a running refresh to return.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.cancel = nil
	r.cron.Remove(r.entryID)
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.logger.Info("Background refresh stopped")
}

func (r *Refresher) refresh() {
	r.mu.Lock()
	parent := r.ctx
	r.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	snap, err := r.syncer.Synchronize(ctx)
	if err != nil {
		r.logger.Warn("Background refresh failed", "error", err, "retryable", types.IsRetryable(err))
		return
	}
	r.logger.Debug("Background refresh completed",
		"tasks", len(snap.Tasks),
		"reviews", len(snap.Reviews),
		"warnings", len(snap.Warnings),
		"duration", time.Since(start))
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
