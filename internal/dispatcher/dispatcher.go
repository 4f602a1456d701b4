// Package dispatcher fans a catalog out to a bounded pool of probe workers and
// collects one result per site in catalog order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/metrics"
	"github.com/JakeFAU/shadowprobe/internal/probe"
)

// ErrInvalidConfig marks configuration rejected before any probe is issued.
var ErrInvalidConfig = errors.New("invalid dispatch config")

// Prober evaluates one target URL.
type Prober interface {
	Probe(ctx context.Context, site, targetURL string) probe.Result
}

// Policy decides whether a target URL may be fetched.
type Policy interface {
	Allowed(ctx context.Context, targetURL string) bool
}

// Limiter spaces requests to the same host.
type Limiter interface {
	Wait(ctx context.Context, targetURL string) error
}

// Observer is notified as each result is produced, from worker goroutines.
type Observer func(res probe.Result, dur time.Duration)

// Config controls scheduling.
type Config struct {
	Concurrency   int
	RespectRobots bool
}

// Dispatcher schedules probes under the concurrency cap.
type Dispatcher struct {
	cfg      Config
	prober   Prober
	policy   Policy
	limiter  Limiter
	observer Observer
	logger   *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the policy consulted when RespectRobots is enabled.
func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithLimiter sets a per-host limiter awaited before each GET.
func WithLimiter(l Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithObserver registers a callback for completed results.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New validates cfg and builds a Dispatcher.
func New(cfg Config, prober Prober, opts ...Option) (*Dispatcher, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be > 0, got %d", ErrInvalidConfig, cfg.Concurrency)
	}
	if prober == nil {
		return nil, fmt.Errorf("%w: prober is required", ErrInvalidConfig)
	}
	d := &Dispatcher{cfg: cfg, prober: prober, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.RespectRobots && d.policy == nil {
		return nil, fmt.Errorf("%w: respect robots requires a policy", ErrInvalidConfig)
	}
	return d, nil
}

// Dispatch probes every site for username and returns the results in catalog
// order. The only errors are configuration errors, returned before any request
// is issued. If ctx ends early, sites that were never scheduled still get a
// result describing the interruption.
func (d *Dispatcher) Dispatch(ctx context.Context, sites catalog.Catalog, username string) ([]probe.Result, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	if err := sites.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	results := make([]probe.Result, len(sites))
	filled := make([]bool, len(sites))
	jobs := make(chan int)

	workers := min(d.cfg.Concurrency, len(sites))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.runOne(ctx, sites[i], username)
				filled[i] = true
			}
		}()
	}

	scheduled := 0
feed:
	for i := range sites {
		select {
		case jobs <- i:
			scheduled++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if scheduled < len(sites) {
		d.logger.Warn("dispatch interrupted; unscheduled sites marked",
			zap.Int("scheduled", scheduled),
			zap.Int("total", len(sites)),
			zap.Error(ctx.Err()),
		)
	}
	for i, ok := range filled {
		if !ok {
			results[i] = probe.FromError(sites[i].Name, sites[i].TargetURL(username), ctx.Err())
		}
	}
	return results, nil
}

func (d *Dispatcher) runOne(ctx context.Context, site catalog.Site, username string) probe.Result {
	metrics.ProbeStarted()
	defer metrics.ProbeFinished()

	start := time.Now()
	res := d.evaluate(ctx, site, username)
	if d.observer != nil {
		d.observer(res, time.Since(start))
	}
	return res
}

func (d *Dispatcher) evaluate(ctx context.Context, site catalog.Site, username string) probe.Result {
	target := site.TargetURL(username)

	ok, err := site.Accepts(username)
	if err != nil {
		d.logger.Warn("username pattern check failed; probing anyway", zap.String("site", site.Name), zap.Error(err))
	} else if !ok {
		return probe.Skipped(site.Name, target, probe.ReasonInvalidUsername)
	}

	if d.cfg.RespectRobots && !d.policy.Allowed(ctx, target) {
		return probe.Skipped(site.Name, target, probe.ReasonDisallowed)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, target); err != nil {
			return probe.FromError(site.Name, target, err)
		}
	}
	return d.prober.Probe(ctx, site.Name, target)
}
