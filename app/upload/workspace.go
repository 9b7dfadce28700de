package upload

import (
	"foldly/upload-api/internal"
	"foldly/upload-api/internal/upload"

	"github.com/gin-gonic/gin"
)

// WorkspaceUpload accepts one or more files for the workspace in :id. The
// optional folderID form value picks the destination folder.
func WorkspaceUpload(c *gin.Context, d *internal.Deps) {
	inputs, ok := readFiles(c)
	if !ok {
		return
	}

	target := upload.WorkspaceTarget(c.GetString("userID"), c.Param("id"), c.PostForm("folderID"))

	batchID, err := d.Manager.UploadBatch(c.Request.Context(), inputs, target, upload.Options{})
	if err != nil {
		release(inputs)
		respondError(c, err)
		return
	}

	respondBatch(c, d, batchID)
}
