package catalog

import (
	"errors"
	"fmt"
	"time"
)

// TransportErrorKind classifies transport failures for retry decisions.
type TransportErrorKind string

// Transport failure kinds.
const (
	TransportTimeout          TransportErrorKind = "timeout"
	TransportConnectionFailed TransportErrorKind = "connection_failed"
	TransportHTTPStatus       TransportErrorKind = "http_status"
	TransportRenderFailed     TransportErrorKind = "render_failed"
	TransportCancelled        TransportErrorKind = "cancelled"
)

// TransportError wraps a fetch failure with its classification.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == TransportHTTPStatus {
		return fmt.Sprintf("transport: http status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is returned when a host's circuit breaker is open and the
// request was short-circuited without a network attempt.
type CircuitOpenError struct {
	Host string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for host %s", e.Host)
}

// ExtractionError marks a per-job data defect. It fails the job, never the run.
type ExtractionError struct {
	Reason string
	URL    string
}

func (e *ExtractionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("extraction: %s (%s)", e.Reason, e.URL)
	}
	return fmt.Sprintf("extraction: %s", e.Reason)
}

// ExportError marks a workbook-level failure. Persistent export errors abort
// the whole run because a corrupt output invalidates prior work.
type ExportError struct {
	Reason string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("export: %s", e.Reason)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, 5xx responses, and 429.
func IsTransient(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Kind {
	case TransportTimeout, TransportConnectionFailed, TransportRenderFailed:
		return true
	case TransportHTTPStatus:
		return te.StatusCode >= 500 || te.StatusCode == 429
	default:
		return false
	}
}
