package upload

import "slices"

type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further progress happens without a retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Active() bool {
	return s == StatusUploading || s == StatusProcessing
}

// Files may only move along these edges. failed -> pending is the retry edge.
var transitions = map[Status][]Status{
	StatusPending:    {StatusUploading, StatusFailed, StatusCancelled},
	StatusUploading:  {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPending},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

type BatchStatus string

const (
	BatchUploading BatchStatus = "uploading"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchPartial   BatchStatus = "partial"
	BatchCancelled BatchStatus = "cancelled"
)

func (s BatchStatus) Terminal() bool {
	return s != BatchUploading
}

// batchStatus derives the batch status from its files. Cancelled files are
// ignored unless every file was cancelled.
func batchStatus(statuses []Status) BatchStatus {
	var completed, failed int
	for _, s := range statuses {
		switch s {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusCancelled:
		default:
			return BatchUploading
		}
	}

	switch {
	case completed > 0 && failed > 0:
		return BatchPartial
	case completed > 0:
		return BatchCompleted
	case failed > 0:
		return BatchFailed
	}

	return BatchCancelled
}
