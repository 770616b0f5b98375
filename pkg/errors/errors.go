// Package errors defines the typed errors returned across package boundaries.
// Handshake failures are not errors; they are carried in scanner outcomes.
package errors

import (
	"fmt"
)

// ConfigError reports an invalid or unreadable configuration value.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// NewConfigError constructs a ConfigError.
func NewConfigError(field, message string, err error) error {
	return &ConfigError{Field: field, Message: message, Err: err}
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError wraps a failure talking to a queue, publisher or cache.
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError constructs a TransportError.
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RevocationError reports that neither OCSP nor CRL produced an answer.
type RevocationError struct {
	Serial string
	Err    error
}

// NewRevocationError constructs a RevocationError.
func NewRevocationError(serial string, err error) error {
	return &RevocationError{Serial: serial, Err: err}
}

func (e *RevocationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("revocation status unavailable for serial %s: %v", e.Serial, e.Err)
}

// Unwrap exposes the underlying error.
func (e *RevocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
