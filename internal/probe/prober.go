package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 2 << 20
	defaultUserAgent    = "full-social-osint/1.0"
)

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxBodyBytes    int
	NegativeMarkers []string
}

// Prober evaluates a single target URL with the Colly collector. Every call
// clones a base collector, so probes share one HTTP backend and connection pool.
type Prober struct {
	markers []string
	base    *colly.Collector
	logger  *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// outcome is filled by collector callbacks during a visit.
type outcome struct {
	received bool
	status   int
	body     []byte
	err      error
}

// New builds a Prober over transport. A nil transport uses the Colly default.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Prober {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	markers := cfg.NegativeMarkers
	if len(markers) == 0 {
		markers = DefaultNegativeMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if transport != nil {
		c.WithTransport(transport)
	}
	// Clones share the backend client, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Prober{
		markers: append([]string(nil), markers...),
		base:    c,
		logger:  logger,
	}
}

// Probe issues one GET against targetURL and classifies the outcome. It never
// returns an error: transport failures become results with a nil status.
func (p *Prober) Probe(ctx context.Context, site, targetURL string) Result {
	start := time.Now()
	out := &outcome{}
	collector := p.base.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, out)

	var res Result
	if err := runCollector(ctx, collector, targetURL, out); err != nil {
		res = FromError(site, targetURL, err)
	} else {
		res = Classify(site, targetURL, out.status, out.body, p.markers)
	}

	p.logger.Debug("probe finished",
		zap.String("site", site),
		zap.String("url", targetURL),
		zap.String("status", res.StatusText()),
		zap.Bool("found", res.Found),
		zap.String("reason", res.ReasonText()),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func configureCollectorHooks(hooks collectorHooks, out *outcome) {
	hooks.OnResponse(func(r *colly.Response) {
		out.received = true
		out.status = r.StatusCode
		out.body = r.Body
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		out.err = err
	})
}

// runCollector visits url and waits for completion or ctx. The outcome must not
// be read when ctx wins the race.
func runCollector(ctx context.Context, collector *colly.Collector, url string, out *outcome) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if out.err != nil {
			return out.err
		}
		if err != nil {
			return err
		}
		if !out.received {
			return errNoResponse
		}
		return nil
	}
}
