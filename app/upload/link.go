package upload

import (
	"errors"
	"net/http"
	"time"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/upload"
	"foldly/upload-api/pkg/middleware"
	"foldly/upload-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LinkInfo returns what an anonymous uploader needs to know before picking
// files. Inactive links are reported instead of hidden.
func LinkInfo(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	link, err := d.Repo.LinkBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "Link not found",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to load link", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	maxFileSize := link.MaxFileSize
	if maxFileSize <= 0 || maxFileSize > d.Config.Upload.MaxSize {
		maxFileSize = d.Config.Upload.MaxSize
	}

	accepting := link.Active && !link.Expired(time.Now()) && (link.MaxFiles <= 0 || link.TotalFiles < link.MaxFiles)

	c.JSON(http.StatusOK, gin.H{
		"title":            link.Title,
		"description":      link.Description,
		"requiresPassword": link.RequiresPassword(),
		"maxFiles":         link.MaxFiles,
		"maxFileSize":      maxFileSize,
		"allowedTypes":     link.AllowedTypes,
		"acceptingUploads": accepting,
	})
}

// LinkUpload accepts files through a shared link. The uploader identifies
// themselves with the form fields uploaderName, uploaderEmail and message.
func LinkUpload(c *gin.Context, d *internal.Deps) {
	link := c.MustGet("link").(*model.Link)

	inputs, ok := readFiles(c)
	if !ok {
		return
	}

	email := c.PostForm("uploaderEmail")
	if email != "" {
		if err := validators.EmailValidator(email); err != nil {
			release(inputs)

			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid email address provided",
				"requestID": c.GetString("requestID"),
			})
			return
		}
	}

	target := upload.LinkTarget(
		link.ID,
		c.PostForm("uploaderName"),
		email,
		c.PostForm("message"),
		c.GetHeader(middleware.LinkPasswordHeader),
	)

	batchID, err := d.Manager.UploadBatch(c.Request.Context(), inputs, target, upload.Options{})
	if err != nil {
		release(inputs)
		respondError(c, err)
		return
	}

	respondBatch(c, d, batchID)
}

// LinkBatchStatus reports an anonymous batch. Batch ids are random so
// knowing one is enough to read it.
func LinkBatchStatus(c *gin.Context, d *internal.Deps) {
	bp, err := ownedBatch(d, c.Param("id"), "")
	if err != nil {
		respondError(c, err)
		return
	}

	files, err := d.Manager.GetBatchFiles(bp.BatchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch": bp,
		"files": files,
	})
}
