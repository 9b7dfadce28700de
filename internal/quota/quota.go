// Package quota decides whether a user may store more bytes. Every check
// fails closed: if usage can't be looked up the upload is denied.
package quota

import (
	"context"
	"errors"
	"fmt"

	"foldly/upload-api/pkg/validators"
)

// NearLimitThreshold is the projected usage percentage above which a
// passing check is flagged as close to the limit.
const NearLimitThreshold = 80.0

var (
	ErrNoLimit     = errors.New("user has no storage limit configured")
	ErrInvalidSize = errors.New("file size can't be negative")
)

// Usage is the stored byte count of a user and their allotment.
type Usage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

type Source interface {
	GetUserQuota(ctx context.Context, userID string) (Usage, error)
}

// Result of a single check. A Checker is a validators.QuotaChecker.
type Result = validators.QuotaResult

type Checker struct {
	src Source
}

func NewChecker(src Source) *Checker {
	return &Checker{src: src}
}

// Check reports whether size more bytes fit in the user's allotment.
// Percentage is the usage the user would have after the upload.
func (c *Checker) Check(ctx context.Context, userID string, size int64) Result {
	if size < 0 {
		return Result{Err: ErrInvalidSize}
	}

	usage, err := c.src.GetUserQuota(ctx, userID)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to look up quota, %w", err)}
	}

	if usage.Limit <= 0 {
		return Result{Used: usage.Used, Err: ErrNoLimit}
	}

	projected := usage.Used + size
	pct := float64(projected) / float64(usage.Limit) * 100

	return Result{
		CanUpload:  projected <= usage.Limit,
		Used:       usage.Used,
		Limit:      usage.Limit,
		Remaining:  max(usage.Limit-usage.Used, 0),
		Percentage: pct,
		NearLimit:  pct > NearLimitThreshold,
	}
}
