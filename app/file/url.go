package file

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileURL hands out a signed read URL for a committed file. The optional
// expires query value is the lifetime in seconds.
func FileURL(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	fileID := c.Param("id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "ID is missing",
			"requestID": requestID,
		})
		return
	}

	expires := storage.DefaultSignedURLExpiry
	if v := c.Query("expires"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "expires must be a positive number of seconds",
				"requestID": requestID,
			})
			return
		}
		expires = time.Duration(sec) * time.Second
	}

	f, err := d.Repo.File(c.Request.Context(), fileID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to load file", zap.String("requestID", requestID), zap.Error(err))
		return
	}

	if f == nil || f.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "File not found. It either doesn't exist or you don't own it",
			"requestID": requestID,
		})
		return
	}

	url, err := d.Storage.GetSignedURL(c.Request.Context(), f.StoragePath, f.Bucket, expires)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Failed to sign file URL",
			"requestID": requestID,
		})

		zap.L().Error("Failed to sign file URL", zap.String("requestID", requestID), zap.String("file_id", fileID), zap.Error(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       url,
		"expiresIn": int(expires.Seconds()),
	})
}
