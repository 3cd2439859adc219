package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for structured error handling at the boundary.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeWrongPassword   = "WRONG_PASSWORD"
	ErrCodeStoreCorrupted  = "STORE_CORRUPTED"
	ErrCodeStorageFailure  = "STORAGE_FAILURE"
	ErrCodeNothingToExport = "NOTHING_TO_EXPORT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// Sentinel errors
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrWrongPassword   = errors.New("password error")
	ErrStoreCorrupted  = errors.New("store corrupted")
	ErrStorageFailure  = errors.New("storage failure")
	ErrNothingToExport = errors.New("nothing to export")
)

// DiaryError wraps every failure returned by the diary service.
type DiaryError struct {
	Op   string
	Code string
	Err  error
}

func (e *DiaryError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Code, e.Err)
}

func (e *DiaryError) Unwrap() error {
	return e.Err
}

// NewDiaryError wraps err for op, deriving the code from err.
func NewDiaryError(op string, err error) *DiaryError {
	return &DiaryError{Op: op, Code: CodeOf(err), Err: err}
}

// CorruptionError names the entries that failed verification under a key that
// otherwise verifies. Positions are 0-based insertion positions.
type CorruptionError struct {
	Positions []int
	Total     int
}

func (e *CorruptionError) Error() string {
	parts := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("store corrupted: %d of %d entries failed verification (positions %s)",
		len(e.Positions), e.Total, strings.Join(parts, ", "))
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrStoreCorrupted
}

// StorageError represents an I/O fault of the entry store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// CodeOf maps err to its boundary error code.
func CodeOf(err error) string {
	var de *DiaryError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrWrongPassword):
		return ErrCodeWrongPassword
	case errors.Is(err, ErrStoreCorrupted):
		return ErrCodeStoreCorrupted
	case errors.Is(err, ErrStorageFailure):
		return ErrCodeStorageFailure
	case errors.Is(err, ErrNothingToExport):
		return ErrCodeNothingToExport
	default:
		return ErrCodeInternal
	}
}

// PublicMessage is the message shown at the boundary for err. Only the
// taxonomy reason is exposed, with corruption positions as the one detail.
func PublicMessage(err error) string {
	var ce *CorruptionError
	if errors.As(err, &ce) {
		return ce.Error()
	}

	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		var de *DiaryError
		if errors.As(err, &de) {
			return de.Err.Error()
		}
		return ErrInvalidInput.Error()
	case ErrCodeWrongPassword:
		return ErrWrongPassword.Error()
	case ErrCodeStoreCorrupted:
		return ErrStoreCorrupted.Error()
	case ErrCodeStorageFailure:
		return ErrStorageFailure.Error()
	case ErrCodeNothingToExport:
		return ErrNothingToExport.Error()
	case "":
		return ""
	default:
		return "internal error"
	}
}
