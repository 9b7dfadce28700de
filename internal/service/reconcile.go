// Package service contains the background jobs and flows that sit next to
// the upload manager.
package service

import (
	"context"
	"fmt"
	"time"

	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/storage"

	"go.uber.org/zap"
)

// Objects younger than this may still be waiting for their metadata commit.
const reconcileGrace = time.Hour

// Orphan is a stored object no metadata row points to.
type Orphan struct {
	Bucket       string    `json:"bucket"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Reconciler finds objects that were uploaded but never committed. It only
// reports them, nothing is deleted.
type Reconciler struct {
	provider storage.Provider
	repo     *repository.Repository
	buckets  []string
	now      func() time.Time
}

func NewReconciler(provider storage.Provider, repo *repository.Repository, buckets ...string) *Reconciler {
	return &Reconciler{provider: provider, repo: repo, buckets: buckets, now: time.Now}
}

// Run diffs one bucket prefix against the committed storage paths.
func (r *Reconciler) Run(ctx context.Context, bucket, prefix string) ([]Orphan, error) {
	objects, err := r.provider.ListFiles(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s, %w", bucket, err)
	}

	committed, err := r.repo.StoragePaths(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-reconcileGrace)

	var orphans []Orphan
	for _, o := range objects {
		if _, ok := committed[o.Path]; ok {
			continue
		}

		if o.LastModified.After(cutoff) {
			continue
		}

		zap.L().Warn("Found object without metadata",
			zap.String("bucket", bucket),
			zap.String("path", o.Path),
			zap.Int64("size", o.Size),
			zap.Time("last_modified", o.LastModified),
		)

		orphans = append(orphans, Orphan{Bucket: bucket, Path: o.Path, Size: o.Size, LastModified: o.LastModified})
	}

	return orphans, nil
}

// RunAll reconciles every configured bucket. A failing bucket doesn't stop
// the others.
func (r *Reconciler) RunAll(ctx context.Context) ([]Orphan, error) {
	var (
		all      []Orphan
		firstErr error
	)

	for _, b := range r.buckets {
		orphans, err := r.Run(ctx, b, "")
		if err != nil {
			zap.L().Error("Failed to reconcile bucket", zap.String("bucket", b), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, orphans...)
	}

	return all, firstErr
}

// Schedule reconciles every interval until ctx is done.
func (r *Reconciler) Schedule(ctx context.Context, t time.Duration) {
	ticker := time.NewTicker(t)

	zap.L().Debug("Reconciliation attached", zap.Duration("tick_every", t))

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				orphans, _ := r.RunAll(ctx)
				zap.L().Debug("Reconciliation finished", zap.Int("orphans", len(orphans)))
			case <-ctx.Done():
				return
			}
		}
	}()
}
