package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultReaperInterval = time.Minute
	defaultReaperTimeout  = 30 * time.Second
)

// ExpiredGrantRevoker deletes grants whose expiry has passed.
type ExpiredGrantRevoker interface {
	RevokeExpired(ctx context.Context) (int, error)
}

// ReaperMetrics captures telemetry hooks for expiry sweeps.
type ReaperMetrics interface {
	AddReaperRevoked(count int)
}

// ExpiryReaperOptions configures the sweep schedule.
type ExpiryReaperOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Metrics  ReaperMetrics
}

// ExpiryReaper periodically removes expired direct grants. Reads already ignore
// expired grants, so a missed or delayed sweep only affects storage.
type ExpiryReaper struct {
	revoker  ExpiredGrantRevoker
	interval time.Duration
	timeout  time.Duration
	metrics  ReaperMetrics
	logger   *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	scheduled bool
	running   bool
}

// NewExpiryReaper constructs an ExpiryReaper.
func NewExpiryReaper(revoker ExpiredGrantRevoker, opts ExpiryReaperOptions, logger *zap.Logger) *ExpiryReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultReaperInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultReaperTimeout
	}

	cronLog := cronLogger{logger: logger.Sugar()}
	return &ExpiryReaper{
		revoker:  revoker,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
}

// Start schedules the sweep. Calling Start twice is a no-op.
func (r *ExpiryReaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	if !r.scheduled {
		if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
			_, _ = r.RunOnce(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule expiry reaper: %w", err)
		}
		r.scheduled = true
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("expiry reaper started", zap.Duration("interval", r.interval))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep or ctx, whichever ends first.
func (r *ExpiryReaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	done := r.cron.Stop()
	r.mu.Unlock()

	select {
	case <-done.Done():
		r.logger.Info("expiry reaper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single bounded sweep.
func (r *ExpiryReaper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	removed, err := r.revoker.RevokeExpired(ctx)
	if err != nil {
		r.logger.Error("expiry sweep failed", zap.Error(err))
		return 0, err
	}

	if r.metrics != nil && removed > 0 {
		r.metrics.AddReaperRevoked(removed)
	}
	if removed > 0 {
		r.logger.Info("expired direct permissions removed", zap.Int("count", removed))
	} else {
		r.logger.Debug("expiry sweep found nothing to remove")
	}

	return removed, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
