package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/shadowprobe/internal/app"
	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/probe"
	"github.com/JakeFAU/shadowprobe/internal/report"
)

type fakeRunner struct {
	mu      sync.Mutex
	reqs    []app.RunRequest
	err     error
	noRes   bool
	release chan struct{}
	active  int
	peak    int
}

func (f *fakeRunner) Run(ctx context.Context, req app.RunRequest) (*app.RunResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.noRes {
		return nil, f.err
	}
	status := 200
	rep := report.Aggregate([]probe.Result{
		{Site: "GitHub", URL: "https://github.com/" + req.Username, Status: &status, Found: true},
	}, time.Second)
	return &app.RunResult{RunID: req.RunID, Username: req.Username, Report: rep, ArtifactURI: "memory://" + req.OutputPath}, f.err
}

func (f *fakeRunner) Catalog() catalog.Catalog {
	return catalog.Catalog{
		{Name: "GitHub", URLTemplate: "https://github.com/{username}"},
		{Name: "Reddit", URLTemplate: "https://www.reddit.com/user/{username}"},
	}
}

func (f *fakeRunner) requests() []app.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]app.RunRequest(nil), f.reqs...)
}

type fakeIDGen struct {
	mu sync.Mutex
	n  byte
}

func (f *fakeIDGen) NewRunID() (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	var id uuid.UUID
	id[15] = f.n
	return id, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time                  { return c.now }
func (c fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func newTestServer(t *testing.T, runner *fakeRunner, maxRuns int) *Server {
	t.Helper()
	s := NewServer(runner, nil, &fakeIDGen{}, fakeClock{now: time.Unix(100, 0).UTC()},
		Config{MaxConcurrentRuns: maxRuns}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func submit(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/probes", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func getRun(t *testing.T, s *Server, id string) (int, RunRecord) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probes/"+id, nil))
	var out RunRecord
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func waitForStatus(t *testing.T, s *Server, id string, want RunStatus) RunRecord {
	t.Helper()
	var out RunRecord
	require.Eventually(t, func() bool {
		_, out = getRun(t, s, id)
		return out.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return out
}

func TestServer_SubmitProbe_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(t, runner, 2)

	rec := submit(t, s, `{"username":" alice ","respect_robots":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id := body["run_id"]
	require.NotEmpty(t, id)

	run := waitForStatus(t, s, id, RunStatusSucceeded)
	require.Equal(t, "alice", run.Username)
	require.NotNil(t, run.Report)
	require.Equal(t, 1, run.Report.FoundCount)
	require.Equal(t, "memory://runs/"+id+".json", run.ArtifactURI)
	require.Empty(t, run.Error)
	require.NotNil(t, run.Finished)

	reqs := runner.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, id, reqs[0].RunID.String())
	require.NotNil(t, reqs[0].RespectRobots)
	require.True(t, *reqs[0].RespectRobots)
}

func TestServer_SubmitProbe_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing username", body: `{"username":"  "}`, want: "username required"},
		{name: "unknown site", body: `{"username":"bob","sites":["GitHub","MySpace"]}`, want: "unknown sites: MySpace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			s := newTestServer(t, runner, 1)

			rec := submit(t, s, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, runner.requests())
		})
	}
}

func TestServer_RunFailures(t *testing.T) {
	t.Parallel()

	t.Run("sink error keeps report", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeRunner{err: errors.New("publish completion: boom")}, 1)
		id := decodeRunID(t, submit(t, s, `{"username":"carol"}`))
		run := waitForStatus(t, s, id, RunStatusSucceeded)
		require.NotNil(t, run.Report)
		require.Contains(t, run.Error, "boom")
	})

	t.Run("run error", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeRunner{err: errors.New("dispatch: bad"), noRes: true}, 1)
		id := decodeRunID(t, submit(t, s, `{"username":"dave"}`))
		run := waitForStatus(t, s, id, RunStatusFailed)
		require.Nil(t, run.Report)
		require.Equal(t, "dispatch: bad", run.Error)
	})
}

func TestServer_LimitsConcurrentRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{release: make(chan struct{})}
	s := newTestServer(t, runner, 1)

	first := decodeRunID(t, submit(t, s, `{"username":"one"}`))
	second := decodeRunID(t, submit(t, s, `{"username":"two"}`))

	require.Eventually(t, func() bool { return len(runner.requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, a := getRun(t, s, first)
	_, b := getRun(t, s, second)
	statuses := []RunStatus{a.Status, b.Status}
	require.ElementsMatch(t, []RunStatus{RunStatusRunning, RunStatusQueued}, statuses)

	close(runner.release)
	waitForStatus(t, s, first, RunStatusSucceeded)
	waitForStatus(t, s, second, RunStatusSucceeded)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, 1, runner.peak)
}

func TestServer_GetProbe_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{}, 1)
	code, _ := getRun(t, s, "missing")
	require.Equal(t, http.StatusNotFound, code)
}

func TestServer_ListEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{}, 1)
	id := decodeRunID(t, submit(t, s, `{"username":"erin"}`))
	waitForStatus(t, s, id, RunStatusSucceeded)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Runs []RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	require.Equal(t, id, runs.Runs[0].ID)
	require.Nil(t, runs.Runs[0].Report)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Reddit"`)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{}, 1)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "shadowprobe_http_requests_total")
}

func TestServer_CloseCancelsQueuedRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{release: make(chan struct{})}
	s := NewServer(runner, nil, &fakeIDGen{}, fakeClock{now: time.Unix(100, 0)}, Config{MaxConcurrentRuns: 1}, nil)

	first := decodeRunID(t, submit(t, s, `{"username":"one"}`))
	second := decodeRunID(t, submit(t, s, `{"username":"two"}`))
	require.Eventually(t, func() bool { return len(runner.requests()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	_, a := getRun(t, s, first)
	_, b := getRun(t, s, second)
	require.Equal(t, RunStatusFailed, a.Status)
	require.Equal(t, RunStatusFailed, b.Status)

	rec := submit(t, s, `{"username":"three"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CloseDrainsConcurrentSubmissions(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := NewServer(runner, nil, &fakeIDGen{}, fakeClock{now: time.Unix(100, 0)}, Config{MaxConcurrentRuns: 4}, nil)

	const submitters = 32
	codes := make([]int, submitters)
	ids := make([]string, submitters)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rec := submit(t, s, `{"username":"racer"}`)
			codes[i] = rec.Code
			if rec.Code == http.StatusAccepted {
				var body map[string]string
				if json.Unmarshal(rec.Body.Bytes(), &body) == nil {
					ids[i] = body["run_id"]
				}
			}
		}()
	}
	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	wg.Wait()

	// Every admitted run finished before Close returned; the rest were refused.
	for i, code := range codes {
		switch code {
		case http.StatusAccepted:
			rec, ok := s.runs.Get(ids[i])
			require.True(t, ok)
			require.Equal(t, RunStatusSucceeded, rec.Status)
		default:
			require.Equal(t, http.StatusServiceUnavailable, code)
		}
	}
	require.Len(t, runner.requests(), len(s.runs.List()))
}

type failingWriter struct {
	header http.Header
	status int
}

func (f *failingWriter) Header() http.Header {
	if f.header == nil {
		f.header = http.Header{}
	}
	return f.header
}

func (f *failingWriter) WriteHeader(code int) { f.status = code }

func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestServer_WriteJSONLogsEncodeFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	s := NewServer(&fakeRunner{}, nil, &fakeIDGen{}, fakeClock{}, Config{}, zap.New(core))
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	w := &failingWriter{}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	require.Equal(t, http.StatusOK, w.status)
	entries := logs.FilterMessage("write JSON failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "connection reset", entries[0].ContextMap()["error"])
}

func decodeRunID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["run_id"]
}
