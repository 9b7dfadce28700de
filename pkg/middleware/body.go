package middleware

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// BodySizeLimiter caps the request body at maxBytes. Handlers reading past
// the cap get an *http.MaxBytesError.
func BodySizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fast reject for honest clients
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "Request body is larger than " + humanize.IBytes(uint64(maxBytes)),
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
