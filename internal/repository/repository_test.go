package repository

import (
	"context"
	"testing"

	"foldly/upload-api/db"
	"foldly/upload-api/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const limit = int64(500) << 20

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	return New(conn, limit)
}

func testFile(userID, path string, size int64) *model.File {
	return &model.File{
		ID:          uuid.NewString(),
		UserID:      userID,
		BatchID:     uuid.NewString(),
		FileName:    "a.png",
		FileSize:    size,
		StoragePath: path,
		Bucket:      "workspace-files",
		CreatedAt:   1,
	}
}

func TestGetUserQuota_CreatesDefaultRow(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	u, err := r.GetUserQuota(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Used)
	assert.Equal(t, limit, u.Limit)

	var count int64
	r.DB().Model(model.Stats{}).Where("user_id = ?", "user").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCommitFile_ChargesStorage(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.DB().Create(&model.Stats{UserID: "user", MaxStorage: limit, UsedStorage: 490 << 20}).Error)

	require.NoError(t, r.CommitFile(ctx, testFile("user", "workspaces/w/root/1_a.png", 10<<20), nil))

	u, err := r.GetUserQuota(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(500)<<20, u.Used)

	var stats model.Stats
	require.NoError(t, r.DB().First(&stats, "user_id = ?", "user").Error)
	assert.Equal(t, 1, stats.UploadedFiles)
}

func TestCommitFile_NoStatsRowYet(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CommitFile(ctx, testFile("fresh", "p", 42), nil))

	u, err := r.GetUserQuota(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.Used)
	assert.Equal(t, limit, u.Limit)
}

func TestCommitFile_RollsBackOnConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CommitFile(ctx, testFile("user", "same/path", 10), nil))
	err := r.CommitFile(ctx, testFile("user", "same/path", 20), nil)
	require.Error(t, err)

	u, err := r.GetUserQuota(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Used)
}

func TestCommitFile_LinkBatch(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	link := model.Link{ID: uuid.NewString(), UserID: "owner", Slug: "drop", Active: true, CreatedAt: 1}
	require.NoError(t, r.DB().Create(&link).Error)

	batchID := uuid.NewString()
	for i, size := range []int64{100, 200} {
		f := testFile("owner", "links/"+link.ID+"/"+batchID+"/"+string(rune('a'+i)), size)
		f.LinkID = &link.ID
		f.BatchID = batchID

		batch := &model.Batch{
			ID:           batchID,
			LinkID:       link.ID,
			UserID:       "owner",
			UploaderName: "Ann",
			TotalFiles:   1,
			TotalSize:    size,
			CreatedAt:    1,
		}
		require.NoError(t, r.CommitFile(ctx, f, batch))
	}

	var b model.Batch
	require.NoError(t, r.DB().First(&b, "id = ?", batchID).Error)
	assert.Equal(t, 2, b.TotalFiles)
	assert.Equal(t, int64(300), b.TotalSize)

	got, err := r.LinkBySlug(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 1, got.TotalUploads)

	u, err := r.GetUserQuota(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.Used)
}

func TestCommitFile_LinkLimit(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	link := model.Link{ID: uuid.NewString(), UserID: "owner", Slug: "full", Active: true, MaxFiles: 2, CreatedAt: 1}
	require.NoError(t, r.DB().Create(&link).Error)

	batchID := uuid.NewString()
	commit := func(name string) error {
		f := testFile("owner", "links/"+link.ID+"/"+batchID+"/"+name, 10)
		f.LinkID = &link.ID
		f.BatchID = batchID
		return r.CommitFile(ctx, f, &model.Batch{ID: batchID, LinkID: link.ID, UserID: "owner", UploaderName: "Ann", TotalFiles: 1, TotalSize: 10, CreatedAt: 1})
	}

	require.NoError(t, commit("a"))
	require.NoError(t, commit("b"))
	assert.ErrorIs(t, commit("c"), ErrLinkLimitReached)

	got, err := r.Link(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalFiles)

	var b model.Batch
	require.NoError(t, r.DB().First(&b, "id = ?", batchID).Error)
	assert.Equal(t, 2, b.TotalFiles)

	u, err := r.GetUserQuota(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(20), u.Used)
}

func TestInsertFileMetadataAndIncrement(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	f := testFile("user", "x", 5)
	id, err := r.InsertFileMetadata(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, f.ID, id)

	require.NoError(t, r.IncrementUserStorage(ctx, "user", 5))
	require.NoError(t, r.IncrementUserStorage(ctx, "user", 7))

	u, err := r.GetUserQuota(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(12), u.Used)

	got, err := r.File(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x", got.StoragePath)
}

func TestLookups_NotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.Workspace(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Folder(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.LinkBySlug(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.File(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoragePaths(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for _, p := range []string{"workspaces/w1/root/a", "workspaces/w1/f/b", "workspaces/w2/root/c", "links/l/b/d"} {
		require.NoError(t, r.CommitFile(ctx, testFile("user", p, 1), nil))
	}

	paths, err := r.StoragePaths(ctx, "workspace-files", "workspaces/w1/")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Contains(t, paths, "workspaces/w1/root/a")
	assert.Contains(t, paths, "workspaces/w1/f/b")

	all, err := r.StoragePaths(ctx, "workspace-files", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := r.StoragePaths(ctx, "other-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
