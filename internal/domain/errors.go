package domain

import (
	"errors"
	"fmt"
)

// ErrRateLimited signals an HTTP 429 from the remote API. The fetcher
// handles it by cooling down and retrying; it never leaves the fetcher.
var ErrRateLimited = errors.New("remote rate limited")

// ConfigError reports missing or invalid startup configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// RemoteError reports a non-rate-limit failure talking to the remote API.
// Status is 0 for transport-level failures.
type RemoteError struct {
	Op     string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// StorageError reports a snapshot store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// StartupError marks a failure that must stop the process before the
// polling loop begins (identity resolution, schema creation).
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// IsFatal reports whether err must terminate the process. Only config and
// startup failures are fatal; every steady-state error is per-cycle.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	var startupErr *StartupError
	return errors.As(err, &cfgErr) || errors.As(err, &startupErr)
}
