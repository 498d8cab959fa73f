package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the alignment verification worker
 *
 * Design Pattern: Factory Pattern for error creation
 * SOLID Principle: Single Responsibility (each error type has one purpose)
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Alignment errors
	ErrorAlignmentTimeout ErrorCode = "ALIGNMENT_TIMEOUT"
	ErrorInvalidColumn    ErrorCode = "INVALID_COLUMN"
	ErrorOCRRequeryFailed ErrorCode = "OCR_REQUERY_FAILED"

	// Storage errors
	ErrorStorageFailed    ErrorCode = "STORAGE_FAILED"
	ErrorGlyphIndexFailed ErrorCode = "GLYPH_INDEX_FAILED"

	// Network errors
	ErrorColumnFetchFailed ErrorCode = "COLUMN_FETCH_FAILED"
	ErrorAPICallFailed     ErrorCode = "API_CALL_FAILED"
)

// AlignmentError represents a structured worker error
type AlignmentError struct {
	Code      ErrorCode
	Message   string
	ColumnID  string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *AlignmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AlignmentError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewAlignmentTimeoutError(columnID string, duration time.Duration, cause error) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorAlignmentTimeout,
		Message:   fmt.Sprintf("Alignment timed out after %v", duration),
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewInvalidColumnError(columnID string, reason string) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorInvalidColumn,
		Message:   fmt.Sprintf("Column rejected: %s", reason),
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

func NewOCRRequeryFailedError(columnID string, anchor int, cause error) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorOCRRequeryFailed,
		Message:   fmt.Sprintf("OCR re-query failed at position %d", anchor),
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"anchor_index": anchor,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(columnID string, cause error) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store alignment results",
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewGlyphIndexFailedError(columnID string, cause error) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorGlyphIndexFailed,
		Message:   "Glyph index operation failed",
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewColumnFetchFailedError(columnID string, cause error) *AlignmentError {
	return &AlignmentError{
		Code:      ErrorColumnFetchFailed,
		Message:   "Failed to fetch column from layout service",
		ColumnID:  columnID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *AlignmentError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
