package upload

import (
	"errors"
	"fmt"
	"strings"

	"foldly/upload-api/internal/storage"
	"foldly/upload-api/pkg/validators"
)

var (
	ErrNotFound          = errors.New("upload not found")
	ErrNotCancellable    = errors.New("upload already finished")
	ErrNotRetryable      = errors.New("only failed uploads can be retried")
	ErrRetryLimitReached = errors.New("retry limit reached")
	ErrShutdown          = errors.New("upload manager is shutting down")
	ErrNoFiles           = errors.New("no files provided")
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeMetadataCommit   = "METADATA_COMMIT_FAILED"
	CodeCancelled        = "CANCELLED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ValidationError is a user correctable problem found before any transfer.
type ValidationError struct {
	Issues []validators.Issue
}

func NewValidationError(code, field, message string) *ValidationError {
	return &ValidationError{Issues: []validators.Issue{{Code: code, Field: field, Message: message}}}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.Message)
	}

	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Code() string {
	if len(e.Issues) == 0 {
		return CodeValidationFailed
	}

	return e.Issues[0].Code
}

type QuotaExceededError struct {
	Used      int64
	Limit     int64
	Requested int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded, %d of %d bytes used, %d requested", e.Used, e.Limit, e.Requested)
}

func (e *QuotaExceededError) Code() string { return validators.CodeQuotaExceeded }

// MetadataCommitError means the object is stored but no row references it.
// The object is left in place for reconciliation.
type MetadataCommitError struct {
	Path   string
	Bucket string
	Err    error
}

func (e *MetadataCommitError) Error() string {
	return fmt.Sprintf("failed to commit metadata for %s/%s, %v", e.Bucket, e.Path, e.Err)
}

func (e *MetadataCommitError) Unwrap() error { return e.Err }

func (e *MetadataCommitError) Code() string { return CodeMetadataCommit }

type CancelledError struct {
	FileID string
}

func (e *CancelledError) Error() string { return fmt.Sprintf("upload %s was cancelled", e.FileID) }

func (e *CancelledError) Code() string { return CodeCancelled }

var messages = map[string]string{
	validators.CodeFileTooLarge:    "File exceeds your plan's size limit",
	validators.CodeBlockedFileType: "This file type is not allowed for security reasons",
	validators.CodeInvalidFileType: "This file type is not accepted here",
	validators.CodeQuotaExceeded:   "Storage limit reached",
	validators.CodeQuotaUnknown:    "We couldn't verify your storage usage, please try again",
	validators.CodeInvalidFileName: "File name is not valid",
	validators.CodeEmptyFile:       "File is empty",
	CodeValidationFailed:           "File could not be accepted",
	CodeUploaderRequired:           "Please enter your name before uploading",
	CodeLinkUnavailable:            "This upload link is no longer accepting files",
	CodeLinkLimitReached:           "This upload link has reached its file limit",
	CodeForbidden:                  "You don't have access to this location",
	CodeWrongContext:               "Upload destination is not valid",
	storage.CodeUnavailable:        "Storage is temporarily unavailable, please try again",
	storage.CodeSessionExpired:     "Upload session expired, please try again",
	storage.CodeVerificationFailed: "Upload could not be verified, please try again",
	storage.CodeUploadFailed:       "Upload failed, please try again",
	CodeMetadataCommit:             "File was uploaded but could not be saved, please contact support",
	CodeCancelled:                  "Upload was cancelled",
	CodeInternal:                   "Something went wrong, please try again",
}

// Pre-condition failures reported by context handlers
const (
	CodeUploaderRequired = "UPLOADER_REQUIRED"
	CodeLinkUnavailable  = "LINK_UNAVAILABLE"
	CodeLinkLimitReached = "LINK_LIMIT_REACHED"
	CodeForbidden        = "FORBIDDEN"
	CodeWrongContext     = "WRONG_CONTEXT"
)

// MessageFor returns the user facing message for an error code.
func MessageFor(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}

	return messages[CodeInternal]
}

// CodeOf extracts the machine readable code of err.
func CodeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}

	return CodeInternal
}

func retryable(err error) bool {
	var se *storage.StorageError
	return errors.As(err, &se) && se.Retryable()
}
