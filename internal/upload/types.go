package upload

import (
	"context"
	"time"

	"foldly/upload-api/pkg/validators"
)

type FileError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"-"` // Underlying error, logged but never shown to users
}

// File is a snapshot of one file moving through the pipeline.
type File struct {
	ID            string             `json:"id"`
	BatchID       string             `json:"batchId"`
	Name          string             `json:"name"`
	SanitizedName string             `json:"sanitizedName"`
	Size          int64              `json:"size"`
	MimeType      string             `json:"mimeType"`
	Category      string             `json:"category"`
	Status        Status             `json:"status"`
	Progress      float64            `json:"progress"`
	UploadedBytes int64              `json:"uploadedBytes"`
	RetryCount    int                `json:"retryCount"`
	Error         *FileError         `json:"error,omitempty"`
	Errors        []validators.Issue `json:"errors,omitempty"`
	Warnings      []validators.Issue `json:"warnings,omitempty"`
	StoragePath   string             `json:"storagePath,omitempty"`
	URL           string             `json:"url,omitempty"`
	RecordID      string             `json:"recordId,omitempty"`
	StartedAt     *time.Time         `json:"startedAt,omitempty"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
}

type BatchProgress struct {
	BatchID        string      `json:"batchId"`
	UserID         string      `json:"-"`
	Status         BatchStatus `json:"status"`
	TotalFiles     int         `json:"totalFiles"`
	CompletedFiles int         `json:"completedFiles"`
	FailedFiles    int         `json:"failedFiles"`
	CancelledFiles int         `json:"cancelledFiles"`
	TotalBytes     int64       `json:"totalBytes"`
	UploadedBytes  int64       `json:"uploadedBytes"`
	Progress       float64     `json:"progress"`
	CreatedAt      time.Time   `json:"createdAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}

type Statistics struct {
	TotalUploads   int   `json:"totalUploads"`
	SuccessCount   int   `json:"successCount"`
	FailureCount   int   `json:"failureCount"`
	CancelledCount int   `json:"cancelledCount"`
	RetryCount     int   `json:"retryCount"`
	ActiveUploads  int   `json:"activeUploads"`
	PendingUploads int   `json:"pendingUploads"`
	BytesUploaded  int64 `json:"bytesUploaded"`
}

type ProgressEvent struct {
	FileID        string  `json:"fileId"`
	BatchID       string  `json:"batchId"`
	Progress      float64 `json:"progress"`
	UploadedBytes int64   `json:"uploadedBytes"`
	TotalBytes    int64   `json:"totalBytes"`
}

type StateChangeEvent struct {
	FileID         string     `json:"fileId"`
	BatchID        string     `json:"batchId"`
	PreviousStatus Status     `json:"previousStatus"`
	NewStatus      Status     `json:"newStatus"`
	Error          *FileError `json:"error,omitempty"`
}

type BatchProgressEvent struct {
	BatchID        string      `json:"batchId"`
	Status         BatchStatus `json:"status"`
	CompletedFiles int         `json:"completedFiles"`
	FailedFiles    int         `json:"failedFiles"`
	TotalFiles     int         `json:"totalFiles"`
}

// Listener receives manager events. Any callback may be nil. Callbacks run
// on upload goroutines and must not block for long.
type Listener struct {
	OnProgress      func(ProgressEvent)
	OnStateChange   func(StateChangeEvent)
	OnBatchProgress func(BatchProgressEvent)
}

// Input is a file offered to the manager.
type Input struct {
	Name     string
	Size     int64
	MimeType string
	Source   Source
}

// Options tighten the manager defaults for a single call.
type Options struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// Handle is what a Processor gets to work with. Destination and Bucket are
// filled in by Prepare.
type Handle struct {
	FileID        string
	BatchID       string
	Name          string
	SanitizedName string
	Size          int64
	MimeType      string
	Category      string
	Context       Context
	Source        Source

	Destination string
	Bucket      string
	OwnerID     string

	OnProgress   func(uploaded int64)
	OnProcessing func()
}

// Progress reports how many bytes the backend has acknowledged.
func (h *Handle) Progress(n int64) {
	if h.OnProgress != nil {
		h.OnProgress(n)
	}
}

// Processing marks the transfer as finished so verification can begin.
func (h *Handle) Processing() {
	if h.OnProcessing != nil {
		h.OnProcessing()
	}
}

type Result struct {
	RecordID    string
	StoragePath string
	Bucket      string
	URL         string
}

// Processor moves a validated file to its destination. Prepare only checks
// pre-conditions and must never touch storage.
type Processor interface {
	Prepare(ctx context.Context, h *Handle) error
	Process(ctx context.Context, h *Handle) (*Result, error)
}
