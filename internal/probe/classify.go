package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
)

// Classify maps a received response onto a Result. markers are matched
// case-insensitively against the body of 200 responses only.
func Classify(site, targetURL string, status int, body []byte, markers []string) Result {
	code := status
	res := Result{Site: site, URL: targetURL, Status: &code}
	switch status {
	case http.StatusNotFound:
		res.Reason = stringPtr(ReasonNotFound)
	case http.StatusOK:
		if containsMarker(body, markers) {
			res.Reason = stringPtr(ReasonSoftNotFound)
			return res
		}
		res.Found = true
	default:
		res.Reason = stringPtr(StatusReason(status))
	}
	return res
}

// FromError maps a transport failure onto a Result with no status.
func FromError(site, targetURL string, err error) Result {
	if IsTimeout(err) {
		return Skipped(site, targetURL, ReasonTimeout)
	}
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Skipped(site, targetURL, ClientErrorReason(detail))
}

// IsTimeout reports whether err represents a deadline or I/O timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsMarker(body []byte, markers []string) bool {
	if len(body) == 0 || len(markers) == 0 {
		return false
	}
	text := strings.ToLower(string(body))
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func stringPtr(s string) *string {
	return &s
}
