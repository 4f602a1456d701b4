// Package app wires configuration, the probe engine and the optional result
// sinks into a single runner shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/clock/system"
	"github.com/JakeFAU/shadowprobe/internal/config"
	"github.com/JakeFAU/shadowprobe/internal/dispatcher"
	idgen "github.com/JakeFAU/shadowprobe/internal/id/uuid"
	"github.com/JakeFAU/shadowprobe/internal/output"
	"github.com/JakeFAU/shadowprobe/internal/probe"
	"github.com/JakeFAU/shadowprobe/internal/progress"
	"github.com/JakeFAU/shadowprobe/internal/progress/sinks"
	"github.com/JakeFAU/shadowprobe/internal/publisher/pubsub"
	"github.com/JakeFAU/shadowprobe/internal/ratelimit"
	"github.com/JakeFAU/shadowprobe/internal/report"
	"github.com/JakeFAU/shadowprobe/internal/robots"
	"github.com/JakeFAU/shadowprobe/internal/storage/gcs"
	"github.com/JakeFAU/shadowprobe/internal/storage/local"
	"github.com/JakeFAU/shadowprobe/internal/storage/postgres"
)

// ErrInvalidRequest marks run requests rejected before any probe is issued.
var ErrInvalidRequest = errors.New("invalid run request")

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// IDGenerator supplies run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// ResultSaver persists a finished report.
type ResultSaver interface {
	SaveReport(ctx context.Context, run postgres.Run, rep report.Report) error
	Close()
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Deps overrides the collaborators New would build from configuration. Nil
// fields fall back to defaults or disable the feature.
type Deps struct {
	Catalog   catalog.Catalog
	Blobs     output.BlobStore
	Results   ResultSaver
	Publisher Publisher
	Sinks     []progress.Sink
	Clock     Clock
	IDs       IDGenerator
}

// App holds the long-lived services used by every run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	catalog   catalog.Catalog
	blobs     output.BlobStore
	results   ResultSaver
	publisher Publisher
	hub       *progress.Hub
	clock     Clock
	ids       IDGenerator
	closers   []io.Closer
}

// RunRequest describes one probe run.
type RunRequest struct {
	// RunID names the run. A nil UUID asks the App to generate one.
	RunID    uuid.UUID
	Username string
	// Sites restricts the run to the named catalog entries. Empty means all.
	Sites []string
	// RespectRobots overrides probe.respect_robots when set.
	RespectRobots *bool
	// OutputPath names the artifact to write. Empty skips the artifact.
	OutputPath string
}

// RunResult is the outcome of Run.
type RunResult struct {
	RunID       uuid.UUID     `json:"run_id"`
	Username    string        `json:"username"`
	StartedAt   time.Time     `json:"started_at"`
	Report      report.Report `json:"report"`
	ArtifactURI string        `json:"artifact_uri,omitempty"`
	// ArtifactSHA256 is the hex digest of the stored artifact body.
	ArtifactSHA256 string `json:"artifact_sha256,omitempty"`
}

// Completion is the message published when a run finishes.
type Completion struct {
	RunID          string  `json:"run_id"`
	Username       string  `json:"username"`
	CheckedCount   int     `json:"checked_count"`
	FoundCount     int     `json:"found_count"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ArtifactURI    string  `json:"artifact_uri,omitempty"`
	ArtifactSHA256 string  `json:"artifact_sha256,omitempty"`
}

// New builds an App from configuration, connecting whichever sinks are
// configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := Deps{}
	var closers []io.Closer

	sites, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	deps.Catalog = sites

	if cfg.Output.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		closers = append(closers, client)
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Output.GCSBucket, Prefix: cfg.Output.Prefix})
		if err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		deps.Blobs = blobs
		logger.Info("writing artifacts to gcs", zap.String("bucket", cfg.Output.GCSBucket))
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewResultStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		}, logger)
		if err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("init result store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			closeAll(closers, logger)
			return nil, err
		}
		deps.Results = store
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicName: cfg.PubSub.TopicName})
		if err != nil {
			if deps.Results != nil {
				deps.Results.Close()
			}
			closeAll(closers, logger)
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		deps.Publisher = pub
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Warn("prometheus progress sink disabled", zap.Error(err))
	} else {
		deps.Sinks = append(deps.Sinks, promSink)
	}
	deps.Sinks = append(deps.Sinks, sinks.NewLogSink(logger))

	a, err := NewWithDeps(cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// NewWithDeps builds an App around explicit collaborators.
func NewWithDeps(cfg config.Config, logger *zap.Logger, deps Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sites := deps.Catalog
	if sites == nil {
		sites = catalog.Default()
	}
	if err := sites.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	clk := deps.Clock
	if clk == nil {
		clk = system.New()
	}
	ids := deps.IDs
	if ids == nil {
		ids = idgen.New()
	}
	return &App{
		cfg:       cfg,
		logger:    logger,
		catalog:   sites,
		blobs:     deps.Blobs,
		results:   deps.Results,
		publisher: deps.Publisher,
		hub:       progress.NewHub(progress.Config{Logger: logger}, deps.Sinks...),
		clock:     clk,
		ids:       ids,
	}, nil
}

// Catalog returns the sites every run probes.
func (a *App) Catalog() catalog.Catalog {
	return append(catalog.Catalog(nil), a.catalog...)
}

// Config returns the validated configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Run probes the catalog for req.Username and feeds the report to the
// configured sinks. A non-nil RunResult is returned whenever probing finished;
// the error then reports sink failures only. Configuration problems return
// before any request is issued.
func (a *App) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	sites := a.catalog
	if len(req.Sites) > 0 {
		var unknown []string
		sites, unknown = a.catalog.Filter(req.Sites)
		if len(unknown) > 0 {
			return nil, fmt.Errorf("%w: unknown sites %s", ErrInvalidRequest, strings.Join(unknown, ", "))
		}
	}
	respectRobots := a.cfg.Probe.RespectRobots
	if req.RespectRobots != nil {
		respectRobots = *req.RespectRobots
	}

	runID := req.RunID
	if runID == uuid.Nil {
		var err error
		if runID, err = a.ids.NewRunID(); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	disp, transport, err := a.newDispatcher(runID, respectRobots)
	if err != nil {
		return nil, err
	}
	defer transport.CloseIdleConnections()

	logger := a.logger.With(zap.String("run_id", runID.String()))
	started := a.clock.Now()
	a.hub.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      started,
		Stage:   progress.StageRunStart,
		Checked: len(sites),
	})
	logger.Info("probe run started",
		zap.String("username", username),
		zap.Int("sites", len(sites)),
		zap.Int("concurrency", a.cfg.Probe.Concurrency),
		zap.Bool("respect_robots", respectRobots),
	)

	results, err := disp.Dispatch(ctx, sites, username)
	if err != nil {
		a.hub.Emit(progress.Event{
			RunID: progress.UUIDToBytes(runID),
			TS:    a.clock.Now(),
			Stage: progress.StageRunError,
			Note:  err.Error(),
		})
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	rep := report.Aggregate(results, a.clock.Since(started))
	a.hub.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      a.clock.Now(),
		Stage:   progress.StageRunDone,
		Dur:     time.Duration(rep.ElapsedSeconds * float64(time.Second)),
		Checked: rep.CheckedCount,
		Found:   rep.FoundCount,
	})
	logger.Info("probe run finished",
		zap.Int("checked", rep.CheckedCount),
		zap.Int("found", rep.FoundCount),
		zap.Float64("elapsed_seconds", rep.ElapsedSeconds),
	)

	res := &RunResult{RunID: runID, Username: username, StartedAt: started, Report: rep}
	return res, a.deliver(ctx, logger, req.OutputPath, res)
}

func (a *App) newDispatcher(runID uuid.UUID, respectRobots bool) (*dispatcher.Dispatcher, *http.Transport, error) {
	pc := a.cfg.Probe
	transport, err := probe.NewTransport(probe.TransportConfig{
		MaxConnsPerHost:    pc.Concurrency,
		ProxyURL:           pc.ProxyURL,
		InsecureSkipVerify: pc.InsecureSkipVerify,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	prober := probe.New(probe.Config{
		UserAgent:       pc.UserAgent,
		Timeout:         pc.Timeout(),
		MaxBodyBytes:    pc.MaxBodyBytes,
		NegativeMarkers: pc.NegativeMarkers,
	}, transport, a.logger)

	opts := []dispatcher.Option{
		dispatcher.WithLogger(a.logger),
		dispatcher.WithObserver(func(res probe.Result, dur time.Duration) {
			a.hub.Emit(progress.ProbeDone(runID, res, dur))
		}),
	}
	if respectRobots {
		policy := robots.New(
			&http.Client{Transport: transport},
			robots.Config{UserAgent: pc.UserAgent, Timeout: pc.Timeout()},
			a.logger,
		)
		opts = append(opts, dispatcher.WithPolicy(policy))
	}
	if limiter := ratelimit.New(ratelimit.Config{PerHostRPS: pc.RateLimitPerHost, Burst: pc.RateLimitBurst}); limiter != nil {
		opts = append(opts, dispatcher.WithLimiter(limiter))
	}

	disp, err := dispatcher.New(dispatcher.Config{
		Concurrency:   pc.Concurrency,
		RespectRobots: respectRobots,
	}, prober, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return disp, transport, nil
}

// deliver hands the report to every configured sink. Failures are logged and
// joined; they never alter the report.
func (a *App) deliver(ctx context.Context, logger *zap.Logger, outputPath string, res *RunResult) error {
	var errs []error

	if outputPath != "" {
		art, err := a.writeArtifact(ctx, outputPath, res.Report)
		if err != nil {
			logger.Error("artifact write failed", zap.String("path", outputPath), zap.Error(err))
			errs = append(errs, err)
		} else {
			res.ArtifactURI = art.URI
			res.ArtifactSHA256 = art.SHA256
			logger.Info("artifact written", zap.String("uri", art.URI), zap.String("sha256", art.SHA256))
		}
	}

	if a.results != nil {
		run := postgres.Run{ID: res.RunID, Username: res.Username, StartedAt: res.StartedAt}
		if err := a.results.SaveReport(ctx, run, res.Report); err != nil {
			logger.Error("result persistence failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("save results: %w", err))
		}
	}

	if a.publisher != nil {
		msg := Completion{
			RunID:          res.RunID.String(),
			Username:       res.Username,
			CheckedCount:   res.Report.CheckedCount,
			FoundCount:     res.Report.FoundCount,
			ElapsedSeconds: res.Report.ElapsedSeconds,
			ArtifactURI:    res.ArtifactURI,
			ArtifactSHA256: res.ArtifactSHA256,
		}
		id, err := a.publisher.Publish(ctx, a.cfg.PubSub.TopicName, msg)
		if err != nil {
			logger.Error("completion publish failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("publish completion: %w", err))
		} else {
			logger.Debug("completion published", zap.String("message_id", id))
		}
	}
	return errors.Join(errs...)
}

func (a *App) writeArtifact(ctx context.Context, outputPath string, rep report.Report) (output.Artifact, error) {
	if a.blobs != nil {
		return output.WriteArtifact(ctx, a.blobs, path.Clean(filepath.ToSlash(outputPath)), rep.Results)
	}
	abs, err := filepath.Abs(outputPath)
	if err != nil {
		return output.Artifact{}, fmt.Errorf("resolve output path: %w", err)
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(abs)})
	if err != nil {
		return output.Artifact{}, fmt.Errorf("init local blob store: %w", err)
	}
	return output.WriteArtifact(ctx, store, filepath.Base(abs), rep.Results)
}

// ArtifactPath names the artifact for an API-triggered run.
func ArtifactPath(runID uuid.UUID) string {
	return path.Join("runs", runID.String()+".json")
}

// Close flushes progress and releases sink clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.results != nil {
		a.results.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadCatalog(path string) (catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	sites, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return sites, nil
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("close failed during init", zap.Error(err))
		}
	}
}
