package yield

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is matched by every NoDataError via errors.Is.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidArgument wraps caller input errors.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NoDataError reports an empty series or result set.
type NoDataError struct {
	What string
}

func (e *NoDataError) Error() string {
	if e.What == "" {
		return ErrInsufficientData.Error()
	}
	return fmt.Sprintf("insufficient data: %s", e.What)
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// NotFoundError reports an unknown protocol or pool.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// ConfigurationError reports a missing or invalid setting, e.g. a network
// without a pool address.
type ConfigurationError struct {
	Scope  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Scope, e.Reason)
}
