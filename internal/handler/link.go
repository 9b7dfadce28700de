package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/upload"
	"foldly/upload-api/pkg/security"
	"foldly/upload-api/pkg/validators"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Link stores files sent anonymously through a shared link. Everything is
// charged to the link owner.
type Link struct {
	repo   *repository.Repository
	bucket string
	now    func() time.Time
}

func NewLink(repo *repository.Repository, bucket string) *Link {
	return &Link{repo: repo, bucket: bucket, now: time.Now}
}

// Prepare rejects the upload before any storage call when the uploader is
// anonymous or the link can't take the file.
func (l *Link) Prepare(ctx context.Context, h *upload.Handle) error {
	lc := h.Context.Link
	if h.Context.Kind != upload.KindLink || lc == nil {
		return precondition(upload.CodeWrongContext, "context")
	}

	if strings.TrimSpace(lc.UploaderName) == "" {
		return precondition(upload.CodeUploaderRequired, "uploaderName")
	}

	link, err := l.repo.Link(ctx, lc.LinkID)
	if errors.Is(err, repository.ErrNotFound) {
		return precondition(upload.CodeLinkUnavailable, "linkId")
	}
	if err != nil {
		return fmt.Errorf("failed to load link, %w", err)
	}

	if !link.Active || link.Expired(l.now()) {
		return precondition(upload.CodeLinkUnavailable, "linkId")
	}

	if link.RequiresPassword() {
		ok, err := security.ComparePassword(lc.Password, link.PasswordHash)
		if err != nil {
			zap.L().Error("Stored link password hash is unreadable", zap.String("link_id", link.ID), zap.Error(err))
		}
		if !ok {
			return precondition(upload.CodeForbidden, "password")
		}
	}

	if link.MaxFileSize > 0 && h.Size > link.MaxFileSize {
		return upload.NewValidationError(validators.CodeFileTooLarge, "size",
			fmt.Sprintf("This link accepts files up to %s", humanize.IBytes(uint64(link.MaxFileSize))))
	}

	if !link.AllowedTypes.Allows(mediaType(h.MimeType)) {
		return precondition(validators.CodeInvalidFileType, "type")
	}

	if link.MaxFiles > 0 && link.TotalFiles >= link.MaxFiles {
		return precondition(upload.CodeLinkLimitReached, "linkId")
	}

	h.Bucket = l.bucket
	h.OwnerID = link.UserID
	dest, err := destination(fmt.Sprintf("links/%s/%s", link.ID, h.BatchID), l.now(), h.SanitizedName)
	if err != nil {
		return err
	}
	h.Destination = dest

	return nil
}

func (l *Link) Metadata(h *upload.Handle) map[string]string {
	return map[string]string{
		"linkId":  h.Context.Link.LinkID,
		"batchId": h.BatchID,
	}
}

func (l *Link) Record(h *upload.Handle) (*model.File, *model.Batch) {
	lc := h.Context.Link

	f := fileRecord(h)
	f.LinkID = &lc.LinkID
	f.UploaderName = strings.TrimSpace(lc.UploaderName)
	f.UploaderEmail = lc.UploaderEmail
	f.UploaderMessage = lc.UploaderMessage

	batch := &model.Batch{
		ID:            h.BatchID,
		LinkID:        lc.LinkID,
		UserID:        h.OwnerID,
		UploaderName:  f.UploaderName,
		UploaderEmail: lc.UploaderEmail,
		Message:       lc.UploaderMessage,
		TotalFiles:    1,
		TotalSize:     h.Size,
		CreatedAt:     l.now().Unix(),
	}

	return f, batch
}

func mediaType(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}
