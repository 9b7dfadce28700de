package storage

import (
	"errors"
	"fmt"
)

const (
	CodeUnavailable        = "STORAGE_UNAVAILABLE"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeUploadFailed       = "UPLOAD_FAILED"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket does not exist")
	ErrSizeMismatch   = errors.New("stored object size does not match the upload")
)

// StorageError is returned by every Provider operation that fails.
type StorageError struct {
	Op       string
	Provider string
	ErrCode  string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s failed (%s), %v", e.Provider, e.Op, e.ErrCode, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Code() string { return e.ErrCode }

// Retryable reports whether repeating the whole upload could succeed.
func (e *StorageError) Retryable() bool {
	return !errors.Is(e.Err, ErrBucketNotFound)
}

func NewError(provider, op, code string, err error) *StorageError {
	return &StorageError{Op: op, Provider: provider, ErrCode: code, Err: err}
}
