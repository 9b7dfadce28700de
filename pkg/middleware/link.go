package middleware

import (
	"errors"
	"net/http"
	"time"

	"foldly/upload-api/internal/repository"
	"foldly/upload-api/pkg/security"
	"foldly/upload-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const LinkPasswordHeader = "X-Link-Password"

// NewLinkMiddleware resolves the :slug route parameter to an active link and
// checks its password when one is set. The link is stored as "link".
func NewLinkMiddleware(repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")

		link, err := repo.LinkBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error":     "Link not found",
					"requestID": requestID,
				})
				return
			}

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to load link", zap.String("requestID", requestID), zap.Error(err))
			return
		}

		if !link.Active || link.Expired(time.Now()) {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{
				"error":     "This upload link is no longer accepting files",
				"requestID": requestID,
			})
			return
		}

		if link.RequiresPassword() {
			password := c.GetHeader(LinkPasswordHeader)

			ok := false
			if validators.LinkPasswordValidator(password) == nil {
				ok, err = security.ComparePassword(password, link.PasswordHash)
				if err != nil {
					zap.L().Error("Stored link password hash is unreadable", zap.String("link_id", link.ID), zap.Error(err))
				}
			}

			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":     "Wrong link password",
					"requestID": requestID,
				})
				return
			}
		}

		c.Set("link", link)
		c.Next()
	}
}
