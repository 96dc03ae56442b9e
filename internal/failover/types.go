// Package failover fetches one payload from an ordered list of equivalent
// endpoints, trying them strictly one after another until one succeeds.
//
// Each attempt gets its own deadline. Failures of any kind are recorded and
// the next endpoint is tried; only when every endpoint has failed does the
// caller see an aggregate ExhaustedError. Cancellation of the caller's
// context stops the sequence and surfaces as a CanceledError instead.
package failover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FailureKind classifies why an attempt did not produce a payload.
type FailureKind string

const (
	KindTimeout     FailureKind = "timeout"
	KindTransport   FailureKind = "transport-error"
	KindBadStatus   FailureKind = "bad-status"
	KindDecode      FailureKind = "decode-error"
	KindCircuitOpen FailureKind = "circuit-open"
)

var (
	// ErrNoEndpoints is returned when Fetch is called with an empty list.
	ErrNoEndpoints = errors.New("no endpoints configured")

	// ErrExhausted matches every ExhaustedError via errors.Is.
	ErrExhausted = errors.New("all endpoints exhausted")
)

// Attempt records the outcome of one endpoint. Kind is empty on success.
type Attempt struct {
	Endpoint   string        `json:"endpoint" yaml:"endpoint"`
	Kind       FailureKind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	StatusCode int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Body       string        `json:"body,omitempty" yaml:"body,omitempty"`
	Err        string        `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Succeeded reports whether the attempt produced a payload.
func (a Attempt) Succeeded() bool {
	return a.Kind == ""
}

func (a Attempt) String() string {
	if a.Succeeded() {
		return fmt.Sprintf("%s: ok", a.Endpoint)
	}
	switch a.Kind {
	case KindBadStatus:
		if a.Body != "" {
			return fmt.Sprintf("%s: %s %d (%s)", a.Endpoint, a.Kind, a.StatusCode, a.Body)
		}
		return fmt.Sprintf("%s: %s %d", a.Endpoint, a.Kind, a.StatusCode)
	default:
		if a.Err != "" {
			return fmt.Sprintf("%s: %s (%s)", a.Endpoint, a.Kind, a.Err)
		}
		return fmt.Sprintf("%s: %s", a.Endpoint, a.Kind)
	}
}

// Result is the successful outcome of Fetch.
type Result[T any] struct {
	Payload  T
	Source   string
	Attempts []Attempt
}

// ExhaustedError is returned when every endpoint failed.
type ExhaustedError struct {
	Attempts []Attempt
	Total    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d of %d endpoints attempted, all failed", len(e.Attempts), e.Total)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Detail lists each failed attempt on its own line for operator logs.
func (e *ExhaustedError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, a := range e.Attempts {
		b.WriteString("\n  ")
		b.WriteString(a.String())
	}
	return b.String()
}

// CanceledError is returned when the caller's context ends before an
// endpoint succeeded. It unwraps to the context error.
type CanceledError struct {
	Attempts []Attempt
	Cause    error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("fetch canceled after %d attempt(s): %v", len(e.Attempts), e.Cause)
}

func (e *CanceledError) Unwrap() error {
	return e.Cause
}

// RequestBuilder creates the request for one endpoint. The request must be
// bound to ctx so the per-attempt deadline applies.
type RequestBuilder func(ctx context.Context, endpoint string) (*http.Request, error)

// Decoder turns a 2xx response body into a payload.
type Decoder[T any] func(r io.Reader) (T, error)

// JSONDecoder decodes the body as a single JSON document into T.
func JSONDecoder[T any]() Decoder[T] {
	return func(r io.Reader) (T, error) {
		var payload T
		if err := json.NewDecoder(r).Decode(&payload); err != nil {
			return payload, err
		}
		return payload, nil
	}
}

// AttemptsOf returns the attempt trail carried by an ExhaustedError or a
// CanceledError, or nil for any other error.
func AttemptsOf(err error) []Attempt {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	var canceled *CanceledError
	if errors.As(err, &canceled) {
		return canceled.Attempts
	}
	return nil
}
