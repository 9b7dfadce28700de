// Package upload contains the endpoints that feed the upload manager.
package upload

import (
	"errors"
	"mime/multipart"
	"net/http"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/storage"
	"foldly/upload-api/internal/upload"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError answers with the user facing message of err. Raw backend
// errors are only logged.
func respondError(c *gin.Context, err error) {
	requestID := c.GetString("requestID")

	status, body := http.StatusInternalServerError, gin.H{
		"error":     "Internal server error",
		"requestID": requestID,
	}

	var (
		ve  *upload.ValidationError
		qe  *upload.QuotaExceededError
		se  *storage.StorageError
		mce *upload.MetadataCommitError
	)

	switch {
	case errors.Is(err, upload.ErrNotFound):
		status, body["error"] = http.StatusNotFound, "Upload not found"
	case errors.Is(err, upload.ErrNotCancellable),
		errors.Is(err, upload.ErrNotRetryable),
		errors.Is(err, upload.ErrRetryLimitReached):
		status, body["error"] = http.StatusConflict, capitalize(err.Error())
	case errors.Is(err, upload.ErrInvalidContext), errors.Is(err, upload.ErrNoFiles):
		status, body["error"] = http.StatusBadRequest, capitalize(err.Error())
	case errors.Is(err, upload.ErrShutdown):
		status, body["error"] = http.StatusServiceUnavailable, "Server is shutting down, please try again"
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		body["error"], body["code"], body["issues"] = upload.MessageFor(ve.Code()), ve.Code(), ve.Issues
		if ve.Code() == upload.CodeForbidden {
			status = http.StatusForbidden
		}
	case errors.As(err, &qe):
		status, body["error"], body["code"] = http.StatusUnprocessableEntity, upload.MessageFor(qe.Code()), qe.Code()
	case errors.As(err, &mce):
		body["error"], body["code"] = upload.MessageFor(mce.Code()), mce.Code()
	case errors.As(err, &se):
		body["error"], body["code"] = upload.MessageFor(se.Code()), se.Code()
		switch se.Code() {
		case storage.CodeSessionExpired:
			status = http.StatusGone
		case storage.CodeVerificationFailed:
			status = http.StatusConflict
		case storage.CodeUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("Upload request failed", zap.String("requestID", requestID), zap.Error(err))
	}

	c.AbortWithStatusJSON(status, body)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// readFiles spools every multipart file of the request to disk so the
// manager can reread it on retries.
func readFiles(c *gin.Context) ([]upload.Input, bool) {
	requestID := c.GetString("requestID")

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "Request body size exceeds limit",
				"requestID": requestID,
			})
			return nil, false
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid multipart form",
			"requestID": requestID,
		})
		return nil, false
	}

	headers := append(form.File["file[]"], form.File["file"]...)
	if len(headers) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No files provided",
			"requestID": requestID,
		})
		return nil, false
	}

	inputs := make([]upload.Input, 0, len(headers))
	for _, fh := range headers {
		in, err := spool(fh)
		if err != nil {
			release(inputs)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to spool uploaded file", zap.String("requestID", requestID), zap.Error(err))
			return nil, false
		}
		inputs = append(inputs, in)
	}

	return inputs, true
}

func spool(fh *multipart.FileHeader) (upload.Input, error) {
	f, err := fh.Open()
	if err != nil {
		return upload.Input{}, err
	}
	defer f.Close()

	src, n, err := upload.SpoolToTemp(f)
	if err != nil {
		return upload.Input{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return upload.Input{Name: fh.Filename, Size: n, MimeType: mimeType, Source: src}, nil
}

func release(inputs []upload.Input) {
	for _, in := range inputs {
		if r, ok := in.Source.(upload.Releaser); ok {
			r.Release()
		}
	}
}

// respondBatch reports the admitted batch. Files that failed validation are
// already marked failed, a batch where nothing was accepted is a 422.
func respondBatch(c *gin.Context, d *internal.Deps, batchID string) {
	files, err := d.Manager.GetBatchFiles(batchID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusUnprocessableEntity
	for _, f := range files {
		if f.Status != upload.StatusFailed {
			status = http.StatusAccepted
			break
		}
	}

	c.JSON(status, gin.H{
		"batchID": batchID,
		"files":   files,
	})
}

// ownedBatch loads a batch the caller started. Batches of other users look
// like they don't exist.
func ownedBatch(d *internal.Deps, batchID, userID string) (*upload.BatchProgress, error) {
	bp, err := d.Manager.GetBatchProgress(batchID)
	if err != nil {
		return nil, err
	}

	if bp.UserID != userID {
		return nil, upload.ErrNotFound
	}

	return bp, nil
}
