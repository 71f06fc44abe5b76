package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/unfurl/internal/metrics"
)

// Defaults applied by New when Config leaves a field unset.
const (
	DefaultConcurrency = 3
	DefaultTimeout     = 15 * time.Second
)

// Config controls Dispatcher behavior.
type Config struct {
	// Concurrency caps in-flight requests per batch.
	Concurrency int
	// Timeout bounds each individual request. Zero selects DefaultTimeout,
	// a negative value disables the timeout.
	Timeout time.Duration
}

type job struct {
	batch Batch
	reply chan Results
}

// Dispatcher owns a single long-lived worker goroutine that executes
// submitted batches. The worker starts on first use and runs until Close.
type Dispatcher struct {
	fetcher Fetcher
	limiter Limiter
	ids     IDGenerator
	cfg     Config
	logger  *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	jobs      chan job
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	inflight  sync.WaitGroup
}

// New constructs a Dispatcher. limiter and ids may be nil.
func New(fetcher Fetcher, limiter Limiter, ids IDGenerator, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Dispatcher{
		fetcher: fetcher,
		limiter: limiter,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
		jobs:    make(chan job),
		done:    make(chan struct{}),
	}
}

// Submit hands batch to the worker and blocks until every request in it has
// completed. Per-request failures are reported in the returned Results; the
// error is non-nil only when the worker is unreachable or ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, batch Batch) (Results, error) {
	d.start()
	if batch.Name == "" {
		batch.Name = d.batchName()
	}
	reply := make(chan Results, 1)

	select {
	case d.jobs <- job{batch: batch, reply: reply}:
	case <-d.done:
		return nil, ErrDispatcherClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("submit batch %s: %w", batch.Name, ctx.Err())
	}

	select {
	case res := <-reply:
		return res, nil
	case <-d.done:
		return nil, ErrDispatcherClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("await batch %s: %w", batch.Name, ctx.Err())
	}
}

// Close stops the worker, cancels in-flight requests and waits for running
// batches to drain. Subsequent Submit calls fail with ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.start()
		d.cancel()
		<-d.done
		d.inflight.Wait()
	})
}

func (d *Dispatcher) start() {
	d.startOnce.Do(func() {
		d.ctx, d.cancel = context.WithCancel(context.Background())
		d.logger.Debug("dispatcher worker started",
			zap.Int("concurrency", d.cfg.Concurrency),
			zap.Duration("timeout", d.cfg.Timeout),
		)
		go d.run()
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("dispatcher worker stopped")
			return
		case j := <-d.jobs:
			d.inflight.Add(1)
			go func() {
				defer d.inflight.Done()
				j.reply <- d.execute(d.ctx, j.batch)
			}()
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, batch Batch) Results {
	start := time.Now()
	results := make(Results, len(batch.Requests))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, req := range batch.Requests {
		i, req := i, req
		g.Go(func() error {
			results[i] = d.fetchOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait() // per-request errors live in results

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	metrics.ObserveBatch(len(results), time.Since(start))
	d.logger.Info("batch complete",
		zap.String("batch", batch.Name),
		zap.Int("requests", len(results)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

func (d *Dispatcher) fetchOne(ctx context.Context, req Request) (res Result) {
	res.Key = req.Key
	if req.Method != "" && req.Method != http.MethodGet {
		res.Err = fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
		return res
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, req.URL); err != nil {
			res.Err = err
			return res
		}
	}
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	metrics.IncInFlight()
	defer metrics.DecInFlight()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Body = nil
			res.Err = fmt.Errorf("fetch %s: panic: %v", req.URL, p)
		}
		outcome := "success"
		if res.Err != nil {
			outcome = "failure"
		}
		metrics.ObserveFetch(req.URL, outcome, time.Since(start))
		if res.Err != nil {
			d.logger.Debug("fetch failed", zap.String("url", req.URL), zap.Error(res.Err))
		}
	}()

	res.Body, res.Err = d.fetcher.Fetch(ctx, req)
	if res.Err != nil {
		res.Body = nil
	}
	return res
}

func (d *Dispatcher) batchName() string {
	if d.ids == nil {
		return "batch"
	}
	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("batch id generation failed", zap.Error(err))
		return "batch"
	}
	return id
}
