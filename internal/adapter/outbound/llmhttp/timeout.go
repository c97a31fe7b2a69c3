// Package llmhttp wraps the host's HTTP client with the hard deadline
// the core enforces on LLM provider calls. The core does not talk to
// providers itself; it guarantees that a wrapped call aborts once the
// deadline has elapsed and surfaces a failover error.
package llmhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Default deadlines for wrapped provider calls.
const (
	DefaultConnectionTimeout = 5 * time.Second
	DefaultRequestTimeout    = 15 * time.Second
)

// TimeoutStatusCode is the HTTP status surfaced on a deadline abort.
const TimeoutStatusCode = http.StatusRequestTimeout

// FailoverError is returned when a wrapped call exceeds its deadline.
type FailoverError struct {
	Provider string
	Model    string
	Reason   string
	Status   int
	Elapsed  time.Duration
}

// Error implements the error interface.
func (e *FailoverError) Error() string {
	return fmt.Sprintf("llm call to %s/%s failed: %s after %s (status %d)",
		e.Provider, e.Model, e.Reason, e.Elapsed.Round(time.Millisecond), e.Status)
}

// Doer is the subset of http.Client the wrapper needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Enforcer wraps a Doer with the hard deadline.
type Enforcer struct {
	client            Doer
	connectionTimeout time.Duration
	requestTimeout    time.Duration
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithConnectionTimeout overrides the connection deadline.
func WithConnectionTimeout(d time.Duration) Option {
	return func(e *Enforcer) { e.connectionTimeout = d }
}

// WithRequestTimeout overrides the request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Enforcer) { e.requestTimeout = d }
}

// NewEnforcer wraps client with the default deadlines.
func NewEnforcer(client Doer, opts ...Option) *Enforcer {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Enforcer{
		client:            client,
		connectionTimeout: DefaultConnectionTimeout,
		requestTimeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deadline is the hard ceiling applied to a wrapped call: the larger of
// the connection and request timeouts, measured from the call start.
func (e *Enforcer) Deadline() time.Duration {
	if e.connectionTimeout > e.requestTimeout {
		return e.connectionTimeout
	}
	return e.requestTimeout
}

// Do executes the request under the deadline. On expiry the in-flight
// request is cancelled and a FailoverError with reason "timeout" and
// status 408 is returned, carrying the provider/model context.
func (e *Enforcer) Do(req *http.Request, provider, model string) (*http.Response, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(req.Context(), e.Deadline())
	defer cancel()

	resp, err := e.client.Do(req.WithContext(ctx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, &FailoverError{
				Provider: provider,
				Model:    model,
				Reason:   "timeout",
				Status:   TimeoutStatusCode,
				Elapsed:  time.Since(start),
			}
		}
		return nil, err
	}
	return resp, nil
}
