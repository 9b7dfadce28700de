package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/upload"
)

const rootFolder = "root"

// Workspace stores files uploaded by a signed in user into their own
// workspace.
type Workspace struct {
	repo   *repository.Repository
	bucket string
	now    func() time.Time
}

func NewWorkspace(repo *repository.Repository, bucket string) *Workspace {
	return &Workspace{repo: repo, bucket: bucket, now: time.Now}
}

func (w *Workspace) Prepare(ctx context.Context, h *upload.Handle) error {
	wc := h.Context.Workspace
	if h.Context.Kind != upload.KindWorkspace || wc == nil {
		return precondition(upload.CodeWrongContext, "context")
	}

	ws, err := w.repo.Workspace(ctx, wc.WorkspaceID)
	if errors.Is(err, repository.ErrNotFound) {
		return precondition(upload.CodeForbidden, "workspaceId")
	}
	if err != nil {
		return fmt.Errorf("failed to load workspace, %w", err)
	}

	if ws.UserID != wc.UserID {
		return precondition(upload.CodeForbidden, "workspaceId")
	}

	folder := rootFolder
	if wc.FolderID != "" {
		f, err := w.repo.Folder(ctx, wc.FolderID)
		if errors.Is(err, repository.ErrNotFound) {
			return precondition(upload.CodeForbidden, "folderId")
		}
		if err != nil {
			return fmt.Errorf("failed to load folder, %w", err)
		}

		if f.WorkspaceID != ws.ID {
			return precondition(upload.CodeForbidden, "folderId")
		}
		folder = f.ID
	}

	h.Bucket = w.bucket
	h.OwnerID = ws.UserID
	dest, err := destination(fmt.Sprintf("workspaces/%s/%s", ws.ID, folder), w.now(), h.SanitizedName)
	if err != nil {
		return err
	}
	h.Destination = dest

	return nil
}

func (w *Workspace) Metadata(h *upload.Handle) map[string]string {
	return map[string]string{
		"workspaceId": h.Context.Workspace.WorkspaceID,
		"userId":      h.OwnerID,
	}
}

func (w *Workspace) Record(h *upload.Handle) (*model.File, *model.Batch) {
	wc := h.Context.Workspace

	f := fileRecord(h)
	f.WorkspaceID = &wc.WorkspaceID
	if wc.FolderID != "" {
		f.FolderID = &wc.FolderID
	}

	return f, nil
}
