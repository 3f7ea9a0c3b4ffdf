// Package consensuserrors implements the consensus pipeline's error
// taxonomy: sentinel errors for fatal/classifiable kinds, wrapped structs
// for errors carrying call context, and a classifier used by the upstream
// client and stage executor to decide retry/fallback/degradation behavior.
package consensuserrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomy entry in spec.md §7.
var (
	ErrNoAPIKey            = errors.New("api key missing or empty")
	ErrInvalidKey          = errors.New("upstream rejected credentials")
	ErrInsufficientCredits = errors.New("upstream reports insufficient credits")
	ErrModelNotFound       = errors.New("upstream model not found")
	ErrRateLimited         = errors.New("upstream rate limited the request")
	ErrTimeout             = errors.New("upstream call deadline exceeded")
	ErrNetwork             = errors.New("network or DNS failure")
	ErrServer              = errors.New("upstream server error")
	ErrProtocol            = errors.New("malformed SSE or JSON from upstream")
	ErrCancelled           = errors.New("request cancelled")
	ErrBudgetExceeded      = errors.New("budget check refused the request")
	ErrUsageLimitExceeded  = errors.New("usage limit refused the request")
	ErrStageFailed         = errors.New("stage failed after exhausting fallbacks")
	ErrAllFallbacksFailed  = errors.New("every candidate model is open or failing")
)

// UpstreamError wraps a sentinel with the call context that produced it.
type UpstreamError struct {
	Kind       error
	StatusCode int
	Model      string
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s (model %s, status %d): %v", e.Kind, e.Model, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("upstream %s (model %s): %v", e.Kind, e.Model, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}

// StageError wraps a sentinel with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Model string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (model %s): %v", e.Stage, e.Model, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewUpstreamError builds an *UpstreamError for the given sentinel kind.
func NewUpstreamError(kind error, model string, statusCode int, cause error) *UpstreamError {
	return &UpstreamError{Kind: kind, StatusCode: statusCode, Model: model, Cause: cause}
}

// NewStageError builds a *StageError for the given stage/model.
func NewStageError(stage, model string, cause error) *StageError {
	return &StageError{Stage: stage, Model: model, Cause: cause}
}

// ErrorClassifier answers retry/timeout/degradation questions about a
// sentinel error. Mirrors the teacher's map-based classifier shape.
type ErrorClassifier struct {
	retryable   map[error]bool
	timeout     map[error]bool
	degradation map[error]bool
}

// NewErrorClassifier builds the classifier with the retry policy from
// spec.md §4.A/§7: 429, timeouts, network errors, and 5xx are retryable;
// protocol errors are not retried but do mark a model unhealthy
// (degradation); cancellation is neither retryable nor a degradation signal.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		retryable: map[error]bool{
			ErrRateLimited: true,
			ErrTimeout:     true,
			ErrNetwork:     true,
			ErrServer:      true,
		},
		timeout: map[error]bool{
			ErrTimeout: true,
		},
		degradation: map[error]bool{
			ErrProtocol:      true,
			ErrModelNotFound: true,
		},
	}
}

func (c *ErrorClassifier) IsRetryable(err error) bool {
	return c.lookup(c.retryable, err)
}

func (c *ErrorClassifier) IsTimeout(err error) bool {
	return c.lookup(c.timeout, err)
}

func (c *ErrorClassifier) RequiresDegradation(err error) bool {
	return c.lookup(c.degradation, err)
}

func (c *ErrorClassifier) lookup(set map[error]bool, err error) bool {
	if err == nil {
		return false
	}
	for sentinel, v := range set {
		if v && errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
