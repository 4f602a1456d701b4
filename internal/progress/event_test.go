package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shadowprobe/internal/probe"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageProbeDone)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{name: "missing run id", mutate: func(e *Event) { e.RunID = [16]byte{} }},
		{name: "missing timestamp", mutate: func(e *Event) { e.TS = time.Time{} }},
		{name: "unknown stage", mutate: func(e *Event) { e.Stage = "NOPE" }},
		{name: "probe without site", mutate: func(e *Event) { e.Site = "" }},
		{name: "probe without outcome", mutate: func(e *Event) { e.Outcome = "" }},
		{name: "negative duration", mutate: func(e *Event) { e.Dur = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := valid
			tt.mutate(&evt)
			require.Error(t, evt.Validate())
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	code := func(c int) *int { return &c }
	require.Equal(t, StatusNone, ClassifyStatus(nil))
	require.Equal(t, Status2xx, ClassifyStatus(code(200)))
	require.Equal(t, Status3xx, ClassifyStatus(code(301)))
	require.Equal(t, Status4xx, ClassifyStatus(code(404)))
	require.Equal(t, Status5xx, ClassifyStatus(code(503)))
	require.Equal(t, StatusOther, ClassifyStatus(code(99)))
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeFound, OutcomeOf(probe.Classify("s", "u", 200, nil, nil)))
	require.Equal(t, OutcomeNotFound, OutcomeOf(probe.Classify("s", "u", 404, nil, nil)))
	require.Equal(t, OutcomeSkipped, OutcomeOf(probe.Skipped("s", "u", probe.ReasonDisallowed)))
	require.Equal(t, OutcomeSkipped, OutcomeOf(probe.Skipped("s", "u", probe.ReasonInvalidUsername)))
	require.Equal(t, OutcomeError, OutcomeOf(probe.Skipped("s", "u", probe.ReasonTimeout)))
}

func TestProbeDone(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := ProbeDone(id, probe.Classify("GitHub", "https://github.com/x", 404, nil, nil), time.Second)
	require.NoError(t, evt.Validate())
	require.Equal(t, id, evt.RunUUID())
	require.Equal(t, Status4xx, evt.StatusClass)
	require.Equal(t, OutcomeNotFound, evt.Outcome)
	require.Equal(t, probe.ReasonNotFound, evt.Note)
}
