// Package progress provides the event primitives and the non-blocking hub used
// to report probe run progress. Events are batched on a background goroutine and
// fanned out to pluggable sinks such as structured logs or Prometheus metrics.
package progress
