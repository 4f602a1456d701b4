// Package report aggregates probe results into the run summary.
package report

import (
	"time"

	"github.com/JakeFAU/shadowprobe/internal/probe"
)

// Report is the ordered result list plus summary counts.
type Report struct {
	Results        []probe.Result `json:"results"`
	CheckedCount   int            `json:"checked_count"`
	FoundCount     int            `json:"found_count"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

// Aggregate builds a Report. Results keep their input order.
func Aggregate(results []probe.Result, elapsed time.Duration) Report {
	found := 0
	for _, res := range results {
		if res.Found {
			found++
		}
	}
	if results == nil {
		results = []probe.Result{}
	}
	return Report{
		Results:        results,
		CheckedCount:   len(results),
		FoundCount:     found,
		ElapsedSeconds: elapsed.Seconds(),
	}
}

// Matches returns the results with Found set, in report order.
func (r Report) Matches() []probe.Result {
	out := make([]probe.Result, 0, r.FoundCount)
	for _, res := range r.Results {
		if res.Found {
			out = append(out, res)
		}
	}
	return out
}
