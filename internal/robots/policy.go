// Package robots decides whether a target URL may be fetched under the host's
// robots exclusion rules.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	maxRobotsBytes = 1 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls the policy fetches.
type Config struct {
	UserAgent string
	// Timeout bounds each robots.txt fetch. Callers pass the probe timeout.
	Timeout time.Duration
}

// Policy evaluates robots.txt rules per host. Documents are fetched at most
// once per host for the lifetime of the Policy, so a Policy should be scoped to
// a single run.
type Policy struct {
	client Doer
	cfg    Config
	logger *zap.Logger
	hosts  sync.Map
}

type rules struct {
	data     *robotstxt.RobotsData
	denyAll  bool
	allowAll bool
}

type hostEntry struct {
	once  sync.Once
	rules rules
}

var errServerStatus = errors.New("robots server error")

// New builds a Policy. A nil client uses a plain http.Client.
func New(client Doer, cfg Config, logger *zap.Logger) *Policy {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{client: client, cfg: cfg, logger: logger}
}

// Allowed reports whether targetURL may be fetched. It fails open: any error
// obtaining or parsing the robots document allows the fetch.
func (p *Policy) Allowed(ctx context.Context, targetURL string) bool {
	if p == nil {
		return true
	}
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		p.logger.Warn("robots check skipped for unparseable url; allowing access", zap.String("url", targetURL))
		return true
	}

	r := p.rulesFor(ctx, parsed)
	allowed := r.test(p.cfg.UserAgent, parsed.RequestURI())
	metrics.ObserveRobotsDecision(allowed)
	if !allowed {
		p.logger.Info("robots policy disallows url", zap.String("url", targetURL))
	}
	return allowed
}

func (r rules) test(userAgent, requestURI string) bool {
	switch {
	case r.denyAll:
		return false
	case r.allowAll || r.data == nil:
		return true
	}
	group := r.data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	return group.Test(requestURI)
}

func (p *Policy) rulesFor(ctx context.Context, parsed *url.URL) rules {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	value, _ := p.hosts.LoadOrStore(hostKey, &hostEntry{})
	entry, ok := value.(*hostEntry)
	if !ok {
		return rules{allowAll: true}
	}
	entry.once.Do(func() {
		r, err := p.fetch(ctx, parsed)
		if err != nil {
			metrics.ObserveRobotsFetchFailure()
			p.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
			r = rules{allowAll: true}
		}
		entry.rules = r
	})
	return entry.rules
}

func (p *Policy) fetch(ctx context.Context, parsed *url.URL) (rules, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return rules{}, fmt.Errorf("new robots request: %w", err)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return rules{}, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return rules{denyAll: true}, nil
	case resp.StatusCode >= 500:
		return rules{}, fmt.Errorf("%w: status %d", errServerStatus, resp.StatusCode)
	case resp.StatusCode >= 400:
		return rules{allowAll: true}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return rules{}, fmt.Errorf("%w: unexpected status %d", errServerStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return rules{}, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return rules{}, fmt.Errorf("parse robots: %w", err)
	}
	return rules{data: data}, nil
}
