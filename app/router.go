// Package app wires the HTTP endpoints of the upload service.
package app

import (
	"time"

	"foldly/upload-api/app/file"
	"foldly/upload-api/app/root"
	up "foldly/upload-api/app/upload"
	"foldly/upload-api/internal"
	"foldly/upload-api/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var store = persist.NewMemoryStore(time.Minute)

// jsonBodyLimit caps every request that isn't a file upload.
const jsonBodyLimit = 1 << 20

func NewRouter(d *internal.Deps) *gin.Engine {
	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     d.Config.Host.CORS,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.LinkPasswordHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		ginzap.RecoveryWithZap(zap.L(), true),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.MaxMultipartMemory = 8 << 20

	jwt := middleware.NewJWTMiddleware(d.Config.JWT.Secret)
	link := middleware.NewLinkMiddleware(d.Repo)
	files := middleware.BodySizeLimiter(d.Config.Upload.MaxSize)
	small := middleware.BodySizeLimiter(jsonBodyLimit)
	publicLimit := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: d.Config.Security.RateLimit,
		Burst:             d.Config.Security.RateLimit * 2,
	})

	main := router.Group("/api")
	{
		// GET|HEAD /api/heartbeat	-> Used to check if the server is alive
		main.GET("/heartbeat", root.Heartbeat)
		main.HEAD("/heartbeat", root.Heartbeat)
	}

	ws := main.Group("/workspaces", jwt)
	{
		// POST /api/workspaces/:id/uploads	-> Uploads files into a workspace
		ws.POST("/:id/uploads", files, func(c *gin.Context) { up.WorkspaceUpload(c, d) })
	}

	u := main.Group("/uploads", jwt)
	{
		// GET /api/uploads/stats		-> Upload manager statistics
		u.GET("/stats", func(c *gin.Context) { up.Stats(c, d) })

		// GET /api/uploads/events		-> Websocket stream of the caller's upload events
		u.GET("/events", func(c *gin.Context) { up.Events(c, d) })

		// POST /api/uploads/sessions		-> Starts a direct upload into the caller's workspace
		u.POST("/sessions", small, func(c *gin.Context) { up.BeginWorkspaceSession(c, d) })

		// POST /api/uploads/sessions/:id/complete	-> Verifies and commits a direct upload
		u.POST("/sessions/:id/complete", func(c *gin.Context) { up.CompleteSession(c, d, c.GetString("userID")) })

		// GET /api/uploads/:id			-> Status of a single file
		u.GET("/:id", func(c *gin.Context) { up.FileStatus(c, d) })

		// POST /api/uploads/:id/cancel		-> Cancels a file
		u.POST("/:id/cancel", func(c *gin.Context) { up.Cancel(c, d) })

		// POST /api/uploads/:id/retry		-> Retries a failed file
		u.POST("/:id/retry", func(c *gin.Context) { up.Retry(c, d) })
	}

	b := main.Group("/batches", jwt)
	{
		// GET /api/batches/:id			-> Progress of a batch and its files
		b.GET("/:id", func(c *gin.Context) { up.BatchStatus(c, d) })

		// POST /api/batches/:id/cancel		-> Cancels every unfinished file of a batch
		b.POST("/:id/cancel", func(c *gin.Context) { up.Cancel(c, d) })
	}

	l := main.Group("/links", publicLimit)
	{
		// GET /api/links/:slug			-> Public info about an upload link
		l.GET("/:slug", cacheFor(30), func(c *gin.Context) { up.LinkInfo(c, d) })

		// POST /api/links/:slug/uploads	-> Anonymous upload through a link
		l.POST("/:slug/uploads", files, link, func(c *gin.Context) { up.LinkUpload(c, d) })

		// GET /api/links/:slug/batches/:id	-> Progress of an anonymous batch
		l.GET("/:slug/batches/:id", link, func(c *gin.Context) { up.LinkBatchStatus(c, d) })

		// POST /api/links/:slug/sessions	-> Starts a direct anonymous upload
		l.POST("/:slug/sessions", small, link, func(c *gin.Context) { up.BeginLinkSession(c, d) })

		// POST /api/links/:slug/sessions/:id/complete	-> Commits a direct anonymous upload
		l.POST("/:slug/sessions/:id/complete", link, func(c *gin.Context) { up.CompleteSession(c, d, "") })
	}

	f := main.Group("/files", jwt)
	{
		// GET /api/files/:id/url		-> Signed read URL of a committed file
		f.GET("/:id/url", func(c *gin.Context) { file.FileURL(c, d) })
	}

	return router
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}
