package common

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Store-level errors. These abort one store pass and reach the caller.
var (
	ErrStoreLocked  = errors.New("store is locked by another run")
	ErrRootMissing  = errors.New("receipts root does not exist")
	ErrUnknownStore = errors.New("unknown store")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// FileError is a per-file failure with its classification.
type FileError struct {
	Kind constants.ErrorKind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func NewFileError(kind constants.ErrorKind, err error) *FileError {
	return &FileError{Kind: kind, Err: err}
}

// Code is the artifact error code for the failure kind.
func (e *FileError) Code() string {
	return ErrorCode(e.Kind)
}

// ErrorCode maps a failure kind onto the code written to error artifacts.
func ErrorCode(kind constants.ErrorKind) string {
	switch kind {
	case constants.ErrorKindRead:
		return "READ_ERROR"
	case constants.ErrorKindParse:
		return "PARSER_FAIL"
	case constants.ErrorKindSchema:
		return "SCHEMA_INVALID"
	case constants.ErrorKindPersist:
		return "DB_ERROR"
	case constants.ErrorKindRoute:
		return "ROUTE_ERROR"
	case constants.ErrorKindAudit:
		return "AUDIT_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
