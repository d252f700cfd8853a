// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package history

import "errors"

// Sentinel errors.
var (
	// ErrNotConfigured means the provider is missing credentials or
	// endpoint configuration.
	ErrNotConfigured = errors.New("history: provider not configured")
	// ErrNoProviders means the composite has nothing to delegate to.
	ErrNoProviders = errors.New("history: no providers available")
	// ErrNoData means every provider was tried and none returned bars.
	ErrNoData = errors.New("history: no data returned by any provider")
	// ErrUnsupported means the provider cannot serve the requested
	// operation (e.g. intraday bars from a daily-only source).
	ErrUnsupported = errors.New("history: operation not supported")
)

// TransientError marks a failure worth retrying: timeouts, 5xx responses,
// rate-limit rejections.
type TransientError struct {
	Err error
}

// Error implements error.
func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: unknown symbols,
// 4xx responses, malformed payloads.
type PermanentError struct {
	Err error
}

// Error implements error.
func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

// Unwrap exposes the underlying cause.
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
