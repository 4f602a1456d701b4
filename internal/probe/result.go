// Package probe issues one HTTP GET per catalog entry and classifies the
// response into a Result.
package probe

import (
	"errors"
	"fmt"
	"strconv"
)

// Reasons attached to results that are not positive matches.
const (
	ReasonTimeout         = "timeout"
	ReasonNotFound        = "not found (404)"
	ReasonSoftNotFound    = "200 but page not found"
	ReasonDisallowed      = "disallowed by policy"
	ReasonInvalidUsername = "username not valid for site"
	clientErrorPrefix     = "client error: "
)

// DefaultNegativeMarkers are the lowercase phrases that turn a 200 response into
// a soft 404.
var DefaultNegativeMarkers = []string{"not found", "404", "sorry", "page does not exist"}

// Result is the outcome of evaluating one site for one username. Status and
// Reason are nil when absent and serialize as null.
type Result struct {
	Site   string  `json:"site"`
	URL    string  `json:"url"`
	Status *int    `json:"status"`
	Found  bool    `json:"found"`
	Reason *string `json:"reason"`
}

// StatusText renders Status for tabular output; absent renders as "".
func (r Result) StatusText() string {
	if r.Status == nil {
		return ""
	}
	return strconv.Itoa(*r.Status)
}

// ReasonText renders Reason for tabular output; absent renders as "".
func (r Result) ReasonText() string {
	if r.Reason == nil {
		return ""
	}
	return *r.Reason
}

// Skipped builds the result for an entry that was never fetched.
func Skipped(site, targetURL, reason string) Result {
	return Result{Site: site, URL: targetURL, Reason: &reason}
}

// ClientErrorReason formats a transport failure detail.
func ClientErrorReason(detail string) string {
	return clientErrorPrefix + detail
}

// StatusReason formats the reason for an unexpected status code.
func StatusReason(code int) string {
	return fmt.Sprintf("status %d", code)
}

var errNoResponse = errors.New("no response received")
