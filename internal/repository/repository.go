// Package repository is the only place that talks to the metadata database.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/quota"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrLinkLimitReached = errors.New("link file limit reached")
)

type Repository struct {
	db           *gorm.DB
	defaultLimit int64
}

// New returns a repository that gives users without a stats row the
// defaultLimit storage allotment.
func New(db *gorm.DB, defaultLimit int64) *Repository {
	return &Repository{db: db, defaultLimit: defaultLimit}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

// GetUserQuota returns the used and allowed bytes of a user, creating the
// stats row on first use.
func (r *Repository) GetUserQuota(ctx context.Context, userID string) (quota.Usage, error) {
	stats := model.Stats{UserID: userID}

	err := r.db.WithContext(ctx).
		Where(model.Stats{UserID: userID}).
		Attrs(model.Stats{MaxStorage: r.defaultLimit}).
		FirstOrCreate(&stats).
		Error
	if err != nil {
		return quota.Usage{}, fmt.Errorf("failed to fetch storage stats, %w", err)
	}

	return quota.Usage{Used: stats.UsedStorage, Limit: stats.MaxStorage}, nil
}

// InsertFileMetadata stores a file row on its own. Most callers want
// CommitFile which also charges the owner's storage.
func (r *Repository) InsertFileMetadata(ctx context.Context, f *model.File) (string, error) {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		return "", fmt.Errorf("failed to insert file metadata, %w", err)
	}

	return f.ID, nil
}

func (r *Repository) IncrementUserStorage(ctx context.Context, userID string, delta int64) error {
	return incrementStorage(r.db.WithContext(ctx), userID, delta, r.defaultLimit)
}

func incrementStorage(tx *gorm.DB, userID string, delta, defaultLimit int64) error {
	files := 1
	if delta < 0 {
		files = -1
	}

	res := tx.
		Model(model.Stats{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"used_storage":   gorm.Expr("used_storage + ?", delta),
			"uploaded_files": gorm.Expr("uploaded_files + ?", files),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update storage stats, %w", res.Error)
	}

	if res.RowsAffected > 0 {
		return nil
	}

	err := tx.Create(&model.Stats{
		UserID:        userID,
		MaxStorage:    defaultLimit,
		UsedStorage:   max(delta, 0),
		UploadedFiles: max(files, 0),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to create storage stats, %w", err)
	}

	return nil
}

// CommitFile makes an uploaded object visible. The file row, the owner's
// storage counter and, for link uploads, the batch row and link counters are
// written in one transaction.
func (r *Repository) CommitFile(ctx context.Context, f *model.File, batch *model.Batch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(f).Error; err != nil {
			return fmt.Errorf("failed to insert file metadata, %w", err)
		}

		if err := incrementStorage(tx, f.UserID, f.FileSize, r.defaultLimit); err != nil {
			return err
		}

		if batch == nil || f.LinkID == nil {
			return nil
		}

		res := tx.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(batch)
		if res.Error != nil {
			return fmt.Errorf("failed to create link batch, %w", res.Error)
		}
		newBatch := res.RowsAffected > 0

		if !newBatch {
			err := tx.
				Model(model.Batch{}).
				Where("id = ?", batch.ID).
				Updates(map[string]any{
					"total_files": gorm.Expr("total_files + ?", 1),
					"total_size":  gorm.Expr("total_size + ?", f.FileSize),
				}).
				Error
			if err != nil {
				return fmt.Errorf("failed to update link batch, %w", err)
			}
		}

		uploads := 0
		if newBatch {
			uploads = 1
		}

		// The limit is enforced here, concurrent commits serialize on the row
		res = tx.
			Model(model.Link{}).
			Where("id = ? AND (max_files <= 0 OR total_files < max_files)", *f.LinkID).
			Updates(map[string]any{
				"total_files":   gorm.Expr("total_files + ?", 1),
				"total_uploads": gorm.Expr("total_uploads + ?", uploads),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update link counters, %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLinkLimitReached
		}

		return nil
	})
}

func (r *Repository) Workspace(ctx context.Context, id string) (*model.Workspace, error) {
	return first[model.Workspace](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) Folder(ctx context.Context, id string) (*model.Folder, error) {
	return first[model.Folder](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) Link(ctx context.Context, id string) (*model.Link, error) {
	return first[model.Link](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) LinkBySlug(ctx context.Context, slug string) (*model.Link, error) {
	return first[model.Link](r.db.WithContext(ctx).Where("slug = ?", slug))
}

func (r *Repository) File(ctx context.Context, id string) (*model.File, error) {
	return first[model.File](r.db.WithContext(ctx).Where("id = ?", id))
}

// StoragePaths returns every committed path in bucket under prefix.
func (r *Repository) StoragePaths(ctx context.Context, bucket, prefix string) (map[string]struct{}, error) {
	var paths []string

	q := r.db.WithContext(ctx).
		Model(model.File{}).
		Where("bucket = ?", bucket)
	if prefix != "" {
		q = q.Where("storage_path LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}

	if err := q.Pluck("storage_path", &paths).Error; err != nil {
		return nil, fmt.Errorf("failed to list storage paths, %w", err)
	}

	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}

	return set, nil
}

func first[T any](q *gorm.DB) (*T, error) {
	var dest T

	err := q.First(&dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &dest, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
