// Package errors defines the error taxonomy of the extraction pipeline.
//
// Only two conditions are fatal for an invocation: undecodable input and
// total OCR unavailability. Everything else is absorbed below the pipeline
// boundary and shows up as nil field values or step reports.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	ErrorImageDecode       ErrorCode = "IMAGE_DECODE_FAILED"
	ErrorCardNotDetected   ErrorCode = "CARD_NOT_DETECTED"
	ErrorOCRUnavailable    ErrorCode = "OCR_UNAVAILABLE"
	ErrorRemoteProvider    ErrorCode = "REMOTE_PROVIDER_FAILED"
	ErrorInvalidField      ErrorCode = "INVALID_FIELD"
	ErrorConfigInvalid     ErrorCode = "CONFIG_INVALID"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
)

// Sentinels for errors.Is. A *ProcessingError matches the sentinel that
// carries the same code.
var (
	ErrImageDecode       = &ProcessingError{Code: ErrorImageDecode, Message: "image could not be decoded"}
	ErrCardNotDetected   = &ProcessingError{Code: ErrorCardNotDetected, Message: "card boundary not detected"}
	ErrOCRUnavailable    = &ProcessingError{Code: ErrorOCRUnavailable, Message: "no OCR connector could run"}
	ErrRemoteProvider    = &ProcessingError{Code: ErrorRemoteProvider, Message: "remote OCR provider failed"}
	ErrInvalidField      = &ProcessingError{Code: ErrorInvalidField, Message: "unknown field"}
	ErrConfigInvalid     = &ProcessingError{Code: ErrorConfigInvalid, Message: "invalid configuration"}
	ErrStorageFailed     = &ProcessingError{Code: ErrorStorageFailed, Message: "storage operation failed"}
	ErrProcessingTimeout = &ProcessingError{Code: ErrorProcessingTimeout, Message: "processing timed out"}
)

// ProcessingError represents a structured pipeline error.
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithJob returns a copy of the error tagged with a job id.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	cp := *e
	cp.JobID = jobID
	return &cp
}

// Factory functions

func NewImageDecodeError(encoding string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecode,
		Message:   "input bytes are not a decodable image",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"encoding": encoding,
		},
		Cause: cause,
	}
}

func NewCardNotDetectedError(candidates int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCardNotDetected,
		Message:   "no 4-vertex contour among candidates",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"candidates": candidates,
		},
	}
}

func NewOCRUnavailableError(attempted []string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRUnavailable,
		Message:   "no usable OCR engine or connector",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempted": attempted,
		},
		Cause: cause,
	}
}

func NewRemoteProviderError(connector string, status int, cause error) *ProcessingError {
	msg := fmt.Sprintf("connector %s failed", connector)
	if status > 0 {
		msg = fmt.Sprintf("connector %s returned HTTP %d", connector, status)
	}
	return &ProcessingError{
		Code:      ErrorRemoteProvider,
		Message:   msg,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"connector":   connector,
			"http_status": status,
		},
		Cause: cause,
	}
}

func NewInvalidFieldError(field string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidField,
		Message:   fmt.Sprintf("unknown field %q", field),
		Timestamp: time.Now(),
	}
}

func NewConfigError(key string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf("invalid value for %s", key),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"key": key,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "failed to store extraction results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first ProcessingError in err's chain, or
// the empty string.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if pe, ok := err.(*ProcessingError); ok {
			return pe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// ToMap converts the error to a map for audit storage.
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
