package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"foldly/upload-api/internal/storage"

	"go.uber.org/zap"
)

const (
	// statusResumeIncomplete is what GCS answers for every chunk except the last.
	statusResumeIncomplete = 308
	maxStalledChunks       = 3
)

// Resumable uploads into a GCS resumable session URI chunk by chunk.
type Resumable struct {
	HTTPClient *http.Client
}

func (t *Resumable) Transfer(ctx context.Context, s *storage.Session, body io.ReadSeeker, onProgress ProgressFunc) error {
	hc := withContext(ctx, t.HTTPClient)

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = max(s.Size, 1)
	}

	var offset int64
	var stalled int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := min(chunk, s.Size-offset)
		if _, err := body.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to offset %d, %w", offset, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.URL, io.LimitReader(body, n))
		if err != nil {
			return storage.NewError(s.Provider, "transfer", storage.CodeUploadFailed, err)
		}
		req.ContentLength = n
		req.Header.Set("Content-Range", contentRange(offset, n, s.Size))
		if n == 0 {
			req.Body = http.NoBody
		}

		res, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return storage.NewError(s.Provider, "transfer", storage.CodeUnavailable, err)
		}
		io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		res.Body.Close()

		switch {
		case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusCreated:
			report(onProgress, s.Size)
			return nil
		case res.StatusCode == statusResumeIncomplete:
			next, err := committedOffset(res.Header.Get("Range"))
			if err != nil {
				return storage.NewError(s.Provider, "transfer", storage.CodeUploadFailed, err)
			}

			if next <= offset {
				stalled++
				if stalled >= maxStalledChunks {
					return storage.NewError(s.Provider, "transfer", storage.CodeUnavailable, fmt.Errorf("session stopped accepting data at offset %d", offset))
				}
			} else {
				stalled = 0
			}

			offset = next
			report(onProgress, offset)
			zap.L().Debug("Uploaded chunk", zap.String("session_id", s.ID), zap.Int64("offset", offset))
		case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
			return storage.NewError(s.Provider, "transfer", storage.CodeSessionExpired, fmt.Errorf("session returned status %d", res.StatusCode))
		case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
			return storage.NewError(s.Provider, "transfer", storage.CodeUnavailable, fmt.Errorf("session returned status %d", res.StatusCode))
		default:
			return storage.NewError(s.Provider, "transfer", storage.CodeUploadFailed, fmt.Errorf("session returned status %d", res.StatusCode))
		}

		if offset >= s.Size {
			// Everything is stored but the session didn't finalize
			return storage.NewError(s.Provider, "transfer", storage.CodeUploadFailed, fmt.Errorf("session incomplete after %d bytes", offset))
		}
	}
}

func contentRange(offset, n, total int64) string {
	if n == 0 {
		return fmt.Sprintf("bytes */%d", total)
	}

	return fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, total)
}

// committedOffset turns a "bytes=0-N" Range header into the next offset.
// A missing header means nothing was persisted yet.
func committedOffset(h string) (int64, error) {
	if h == "" {
		return 0, nil
	}

	_, last, ok := strings.Cut(strings.TrimPrefix(h, "bytes="), "-")
	if !ok {
		return 0, fmt.Errorf("malformed range header %q", h)
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed range header %q, %w", h, err)
	}

	return end + 1, nil
}
