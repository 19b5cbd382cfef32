package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller input that cannot form a LogRecord.
	ErrValidation = errors.New("validation failure")
	// ErrStorageWrite marks a failed write to the storage backend.
	ErrStorageWrite = errors.New("storage write failure")
	// ErrStorageRead marks a failed read from the storage backend.
	ErrStorageRead = errors.New("storage read failure")
	// ErrDeserialization marks a malformed broker payload or stored metadata.
	ErrDeserialization = errors.New("deserialization failure")
	// ErrNotFound is returned by services when a requested record is absent.
	ErrNotFound = errors.New("log record not found")

	// ErrChannelNotReady is returned by broker operations issued before the
	// connection finished its bootstrap.
	ErrChannelNotReady = errors.New("broker channel not ready")
	// ErrBootstrapExhausted is returned when every connection attempt failed.
	ErrBootstrapExhausted = errors.New("broker connection bootstrap exhausted")
	// ErrPublishRejected is returned when a message could not leave the
	// process. Callers may retry.
	ErrPublishRejected = errors.New("publish rejected")
)

// MetadataError reports a stored record whose metadata could not be decoded.
type MetadataError struct {
	ID  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("decode metadata of record %s: %v", e.ID, e.Err)
}

func (e *MetadataError) Unwrap() []error {
	return []error{ErrDeserialization, e.Err}
}
