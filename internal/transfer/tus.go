package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"foldly/upload-api/internal/storage"

	"github.com/eventials/go-tus"
	"go.uber.org/zap"
)

type TUS struct {
	HTTPClient *http.Client
}

func (t *TUS) Transfer(ctx context.Context, s *storage.Session, body io.ReadSeeker, onProgress ProgressFunc) error {
	cfg := tus.DefaultConfig()
	cfg.ChunkSize = s.ChunkSize
	cfg.HttpClient = withContext(ctx, t.HTTPClient)
	for k, v := range s.Headers {
		cfg.Header.Set(k, v)
	}

	client, err := tus.NewClient(s.URL, cfg)
	if err != nil {
		return storage.NewError(s.Provider, "transfer", storage.CodeUploadFailed, fmt.Errorf("failed to create tus client, %w", err))
	}

	upload := tus.NewUpload(body, s.Size, tus.Metadata(s.Metadata), "")

	uploader, err := client.CreateUpload(upload)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return storage.NewError(s.Provider, "transfer", classify(err), fmt.Errorf("failed to create tus upload, %w", err))
	}

	for uploader.Offset() < s.Size {
		if err := ctx.Err(); err != nil {
			uploader.Abort()
			return err
		}

		if err := uploader.UploadChunck(); err != nil {
			if ctx.Err() != nil {
				uploader.Abort()
				return ctx.Err()
			}

			return storage.NewError(s.Provider, "transfer", classify(err), fmt.Errorf("failed to upload chunk at offset %d, %w", uploader.Offset(), err))
		}

		report(onProgress, uploader.Offset())
		zap.L().Debug("Uploaded chunk", zap.String("session_id", s.ID), zap.Int64("offset", uploader.Offset()))
	}

	return nil
}

func classify(err error) string {
	switch err {
	case tus.ErrUploadNotFound, tus.ErrOffsetMismatch:
		return storage.CodeSessionExpired
	case tus.ErrVersionMismatch, tus.ErrLargeUpload:
		return storage.CodeUploadFailed
	}

	return storage.CodeUnavailable
}
