// Unified error handling for the quantum rover host
//
// Every fallible operation returns a coded error consumed by its caller in
// the same loop iteration; no error crosses a component boundary as a panic.
//
// Copyright (C) 2026  Quantum Rover Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package roverrs

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Validation errors: out-of-range parameter or malformed command.
	// Clamped or rejected locally, reported on a single response line.
	ErrValidation     ErrorCode = "VALIDATION"
	ErrUnknownCommand ErrorCode = "UNKNOWN_COMMAND"

	// Authentication errors: rejected line, session stays open.
	ErrAuth ErrorCode = "AUTH"

	// Safety violations: movement suppressed, loop continues.
	ErrSafety        ErrorCode = "SAFETY"
	ErrEmergencyStop ErrorCode = "EMERGENCY_STOP"

	// Persistence errors: checksum mismatch or storage failure.
	ErrPersistence ErrorCode = "PERSISTENCE"
	ErrChecksum    ErrorCode = "CHECKSUM"

	// Communication errors: watchdog or session timeout, link failure.
	ErrComm           ErrorCode = "COMM"
	ErrSessionBusy    ErrorCode = "SESSION_BUSY"
	ErrSessionTimeout ErrorCode = "SESSION_TIMEOUT"

	// Resource exhaustion: the only fatal category.
	ErrResource ErrorCode = "RESOURCE"
)

// RoverError is the unified error type for the host system
type RoverError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Component identifies the reporting component (engine, executor, ...)
	Component string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *RoverError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RoverError) Unwrap() error {
	return e.Err
}

// SetComponent sets the reporting component
func (e *RoverError) SetComponent(component string) *RoverError {
	e.Component = component
	return e
}

// Fatal reports whether the error should terminate the process.
// Only resource exhaustion is fatal; everything else is reported and the
// control loop continues.
func (e *RoverError) Fatal() bool {
	return e.Code == ErrResource
}

// New creates a new RoverError
func New(code ErrorCode, message string) *RoverError {
	return &RoverError{Code: code, Message: message}
}

// Newf creates a new RoverError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *RoverError {
	return &RoverError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *RoverError {
	return &RoverError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from an error chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var re *RoverError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsFatal reports whether any error in the chain is fatal.
func IsFatal(err error) bool {
	var re *RoverError
	return errors.As(err, &re) && re.Fatal()
}

// ValidationError creates an error for an out-of-range or malformed value
func ValidationError(field, reason string) *RoverError {
	return Newf(ErrValidation, "invalid %s: %s", field, reason)
}

// UnknownCommandError creates an error for an unrecognized command line
func UnknownCommandError(line string) *RoverError {
	return Newf(ErrUnknownCommand, "unknown command: %s", line)
}

// AuthError creates an authentication failure error
func AuthError() *RoverError {
	return New(ErrAuth, "authentication failed")
}

// SafetyError creates an error naming the failing safety predicate
func SafetyError(predicate string) *RoverError {
	return Newf(ErrSafety, "safety violation: %s", predicate).SetComponent("executor")
}

// ChecksumError creates a persisted-record checksum mismatch error
func ChecksumError(stored, computed uint32) *RoverError {
	return Newf(ErrChecksum, "checksum mismatch: stored=%08x computed=%08x", stored, computed)
}

// ResourceError creates a fatal resource exhaustion error
func ResourceError(message string) *RoverError {
	return New(ErrResource, message)
}
