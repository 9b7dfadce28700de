package upload

import (
	"net/http"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/service"
	"foldly/upload-api/internal/upload"
	"foldly/upload-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type workspaceSessionRequest struct {
	Name        string `json:"name" binding:"required"`
	Size        int64  `json:"size" binding:"gte=0"`
	MimeType    string `json:"mimeType"`
	WorkspaceID string `json:"workspaceId" binding:"required"`
	FolderID    string `json:"folderId"`
}

type linkSessionRequest struct {
	Name          string `json:"name" binding:"required"`
	Size          int64  `json:"size" binding:"gte=0"`
	MimeType      string `json:"mimeType"`
	UploaderName  string `json:"uploaderName"`
	UploaderEmail string `json:"uploaderEmail"`
	Message       string `json:"message"`
}

func BeginWorkspaceSession(c *gin.Context, d *internal.Deps) {
	var req workspaceSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": c.GetString("requestID"),
		})
		return
	}

	begin(c, d, service.BeginRequest{
		Name:     req.Name,
		Size:     req.Size,
		MimeType: req.MimeType,
		Context:  upload.WorkspaceTarget(c.GetString("userID"), req.WorkspaceID, req.FolderID),
	})
}

func BeginLinkSession(c *gin.Context, d *internal.Deps) {
	link := c.MustGet("link").(*model.Link)

	var req linkSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": c.GetString("requestID"),
		})
		return
	}

	begin(c, d, service.BeginRequest{
		Name:     req.Name,
		Size:     req.Size,
		MimeType: req.MimeType,
		Context: upload.LinkTarget(
			link.ID,
			req.UploaderName,
			req.UploaderEmail,
			req.Message,
			c.GetHeader(middleware.LinkPasswordHeader),
		),
	})
}

func begin(c *gin.Context, d *internal.Deps, req service.BeginRequest) {
	if req.MimeType == "" {
		req.MimeType = "application/octet-stream"
	}

	sess, res, err := d.Sessions.Begin(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":  sess,
		"warnings": res.Warnings,
	})
}

// CompleteSession commits a direct upload. userID is empty for link
// sessions.
func CompleteSession(c *gin.Context, d *internal.Deps, userID string) {
	res, err := d.Sessions.Complete(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          res.RecordID,
		"storagePath": res.StoragePath,
		"url":         res.URL,
	})
}
