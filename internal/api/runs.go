package api

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/shadowprobe/internal/report"
)

// RunStatus is the lifecycle state of an API-triggered run.
type RunStatus string

// Run lifecycle states.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the externally visible state of one run.
type RunRecord struct {
	ID          string         `json:"run_id"`
	Username    string         `json:"username"`
	Status      RunStatus      `json:"status"`
	Submitted   time.Time      `json:"submitted_at"`
	Started     *time.Time     `json:"started_at,omitempty"`
	Finished    *time.Time     `json:"finished_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	ArtifactURI string         `json:"artifact_uri,omitempty"`
	Report      *report.Report `json:"report,omitempty"`
}

// RunStore keeps run records in memory for the life of the process.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewRunStore returns an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]RunRecord)}
}

// Put inserts or replaces a record.
func (s *RunStore) Put(rec RunRecord) {
	s.mu.Lock()
	s.runs[rec.ID] = rec
	s.mu.Unlock()
}

// Update applies fn to the stored record. It reports false when id is unknown.
func (s *RunStore) Update(id string, fn func(*RunRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return false
	}
	fn(&rec)
	s.runs[id] = rec
	return true
}

// Get returns the record for id.
func (s *RunStore) Get(id string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	return rec, ok
}

// List returns every record, newest first.
func (s *RunStore) List() []RunRecord {
	s.mu.RLock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out
}
