package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/infrastructure/httpclient"
)

// FetchError is an adapter failure: transport, non-2xx status, or an
// undecodable payload.
type FetchError struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (%s, HTTP %d)", e.Source, e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s (%s)", e.Source, e.Message, e.Code)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ErrorCode implements datasources.ErrorCoder.
func (e *FetchError) ErrorCode() string {
	return e.Code
}

// Error codes
const (
	ErrCodeRateLimit        = "RATE_LIMIT"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeAPIError         = "API_ERROR"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeInvalidData      = "INVALID_DATA"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeRPCError         = "RPC_ERROR"
)

// classify turns any adapter failure into a *FetchError for source.
func classify(source string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	out := &FetchError{Source: source, Code: ErrCodeNetworkError, Message: err.Error(), Cause: err}

	var se *httpclient.StatusError
	var de *httpclient.DecodeError
	var ne net.Error
	switch {
	case errors.Is(err, datasources.ErrCircuitOpen):
		out.Code = ErrCodeCircuitOpen
	case errors.Is(err, datasources.ErrRateLimited):
		out.Code = ErrCodeRateLimit
	case errors.As(err, &se):
		out.Status = se.StatusCode
		out.Message = se.Body
		if se.StatusCode == http.StatusTooManyRequests {
			out.Code = ErrCodeRateLimit
		} else {
			out.Code = ErrCodeAPIError
		}
	case errors.As(err, &de):
		out.Code = ErrCodeInvalidData
	case errors.Is(err, context.DeadlineExceeded):
		out.Code = ErrCodeTimeout
	case errors.As(err, &ne) && ne.Timeout():
		out.Code = ErrCodeTimeout
	}
	return out
}
