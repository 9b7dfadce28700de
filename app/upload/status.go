package upload

import (
	"errors"
	"net/http"

	"foldly/upload-api/internal"
	"foldly/upload-api/internal/upload"

	"github.com/gin-gonic/gin"
)

func FileStatus(c *gin.Context, d *internal.Deps) {
	f, err := d.Manager.GetProgress(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if _, err := ownedBatch(d, f.BatchID, c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, f)
}

func BatchStatus(c *gin.Context, d *internal.Deps) {
	bp, err := ownedBatch(d, c.Param("id"), c.GetString("userID"))
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

// Cancel stops a file or every unfinished file of a batch, whichever :id
// names.
func Cancel(c *gin.Context, d *internal.Deps) {
	id := c.Param("id")

	if err := authorize(d, id, c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}

	if err := d.Manager.Cancel(id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func Retry(c *gin.Context, d *internal.Deps) {
	id := c.Param("id")

	if err := authorize(d, id, c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}

	if err := d.Manager.Retry(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	f, err := d.Manager.GetProgress(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, f)
}

func Stats(c *gin.Context, d *internal.Deps) {
	c.JSON(http.StatusOK, d.Manager.GetStatistics())
}

// authorize checks that id is a file or batch started by userID.
func authorize(d *internal.Deps, id, userID string) error {
	f, err := d.Manager.GetProgress(id)
	switch {
	case err == nil:
		_, err = ownedBatch(d, f.BatchID, userID)
		return err
	case !errors.Is(err, upload.ErrNotFound):
		return err
	}

	_, err = ownedBatch(d, id, userID)
	return err
}
