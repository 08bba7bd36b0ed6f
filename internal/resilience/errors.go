package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Failure names the reason a prediction could not be served by the backend.
type Failure string

const (
	FailureNone            Failure = ""
	FailureNetwork         Failure = "network"
	FailureTimeout         Failure = "timeout"
	FailureStatus          Failure = "status"
	FailureInvalidResponse Failure = "invalid_response"
	FailureInvalidRequest  Failure = "invalid_request"
	FailureCanceled        Failure = "canceled"
	FailureCircuitOpen     Failure = "circuit_open"
)

// FailureError tags an error with its failure class and, for status
// failures, the HTTP status code.
type FailureError struct {
	Failure    Failure
	StatusCode int
	Err        error
}

func (e *FailureError) Error() string {
	return e.Err.Error()
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// NewFailure tags err with the given failure class.
func NewFailure(f Failure, err error) *FailureError {
	return &FailureError{Failure: f, Err: err}
}

// NewStatusFailure tags err as a non-2xx response with the given status code.
func NewStatusFailure(err error, statusCode int) *FailureError {
	return &FailureError{Failure: FailureStatus, StatusCode: statusCode, Err: err}
}

// Classify returns the failure class of err. Errors tagged with
// FailureError keep their tag; anything else is classified from the error
// chain and message, defaulting to FailureNetwork.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}

	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Failure
	}

	if errors.Is(err, ErrCircuitOpen) {
		return FailureCircuitOpen
	}
	return ClassifyTransport(err)
}

// ClassifyTransport classifies an error returned by http.Client.Do.
func ClassifyTransport(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"i/o timeout", "tls handshake timeout", "client.timeout exceeded"} {
		if strings.Contains(msg, p) {
			return FailureTimeout
		}
	}
	return FailureNetwork
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// IsSuccessStatus reports whether code is a 2xx status.
func IsSuccessStatus(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
