// Package storage hides the object storage backends behind a single
// Provider so the rest of the application never knows which one is in use.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"foldly/upload-api/config"
)

const (
	SessionTTL             = 24 * time.Hour
	DefaultSignedURLExpiry = time.Hour
	maxSignedURLExpiry     = 7 * 24 * time.Hour
)

type InitiateRequest struct {
	FileName    string
	Size        int64
	ContentType string
	Bucket      string
	Path        string
	Metadata    map[string]string
}

type UploadResult struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath"`
}

// VerifyResult describes the object found at the final path. Size lets the
// caller compare against what it expected to be written.
type VerifyResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Size    int64  `json:"size"`
}

type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Provider is implemented by every storage backend. Adapters never retry,
// errors are returned as *StorageError for the caller to decide.
type Provider interface {
	Name() string
	UploadFile(ctx context.Context, body io.Reader, size int64, fileName, path, bucket, contentType string, metadata map[string]string) (*UploadResult, error)
	InitiateResumableUpload(ctx context.Context, req InitiateRequest) (*Session, error)
	VerifyUpload(ctx context.Context, sessionID, bucket, finalPath string) (*VerifyResult, error)
	DeleteFile(ctx context.Context, path, bucket string) error
	GetSignedURL(ctx context.Context, path, bucket string, expiresIn time.Duration) (string, error)
	FileExists(ctx context.Context, path, bucket string) (bool, error)
	ListFiles(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// New builds the provider selected by storage.provider.
func New(ctx context.Context, c *config.Config) (Provider, error) {
	switch c.Storage.Provider {
	case ProviderSupabase:
		return NewSupabase(ctx, c.Supabase)
	case ProviderGCS:
		return NewGCS(c.GCS)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
}

func signedURLExpiry(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultSignedURLExpiry
	case d > maxSignedURLExpiry:
		return maxSignedURLExpiry
	}

	return d
}
