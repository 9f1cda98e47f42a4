package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrInvalidPackageFormat
	ErrUnsupportedVariant
	ErrIdentityConflict
	ErrStorageUnavailable
	ErrTransactionAborted
	ErrNotFound
	ErrChecksumMismatch
	ErrSigning
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInvalidPackageFormat:
		return "InvalidPackageFormat"
	case ErrUnsupportedVariant:
		return "UnsupportedVariant"
	case ErrIdentityConflict:
		return "IdentityConflict"
	case ErrStorageUnavailable:
		return "StorageUnavailable"
	case ErrTransactionAborted:
		return "TransactionAborted"
	case ErrNotFound:
		return "NotFound"
	case ErrChecksumMismatch:
		return "ChecksumMismatch"
	case ErrSigning:
		return "Signing"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// IndexError represents an error raised while maintaining a repository index
type IndexError struct {
	Type    ErrorType
	Package string
	Err     error
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *IndexError) Unwrap() error {
	return e.Err
}

// Errorf builds an IndexError of the given type.
func Errorf(t ErrorType, format string, args ...interface{}) error {
	return &IndexError{Type: t, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err as t unless it is already classified.
func Wrap(t ErrorType, pkg string, err error) error {
	if err == nil {
		return nil
	}
	var ie *IndexError
	if errors.As(err, &ie) {
		if ie.Package == "" && pkg != "" {
			return &IndexError{Type: ie.Type, Package: pkg, Err: ie.Err}
		}
		return err
	}
	return &IndexError{Type: t, Package: pkg, Err: err}
}

// TypeOf returns the outermost classification of err, ErrUnknown if none.
func TypeOf(err error) ErrorType {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Type
	}
	return ErrUnknown
}

// IsType reports whether err is classified as t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}
