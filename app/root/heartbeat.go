// Package root holds endpoints that aren't tied to any resource.
package root

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var started = time.Now()

func Heartbeat(c *gin.Context) {
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(started).Round(time.Second).String(),
	})
}
