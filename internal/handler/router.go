// Package handler knows where uploads go. A handler checks the
// pre-conditions of its context, picks the destination and commits the
// metadata row once the object is verified.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"foldly/upload-api/internal/model"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/storage"
	"foldly/upload-api/internal/transfer"
	"foldly/upload-api/internal/upload"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// Handler is implemented once per upload context kind.
type Handler interface {
	Prepare(ctx context.Context, h *upload.Handle) error
	Metadata(h *upload.Handle) map[string]string
	Record(h *upload.Handle) (*model.File, *model.Batch)
}

// TransferFunc moves the bytes of body into s.
type TransferFunc func(ctx context.Context, s *storage.Session, body io.ReadSeeker, onProgress transfer.ProgressFunc) error

// Invalidator drops cached quota figures once a commit changed them.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Router dispatches on the context kind and runs the storage pipeline shared
// by every handler. It implements upload.Processor.
type Router struct {
	provider  storage.Provider
	repo      *repository.Repository
	workspace Handler
	link      Handler
	transfer  TransferFunc
	quota     Invalidator
	now       func() time.Time
}

func NewRouter(provider storage.Provider, repo *repository.Repository, workspace, link Handler, quota Invalidator) *Router {
	return &Router{
		provider:  provider,
		repo:      repo,
		workspace: workspace,
		link:      link,
		transfer:  HTTPTransfer(nil),
		quota:     quota,
		now:       time.Now,
	}
}

// WithTransfer replaces how bytes are moved into a session.
func (r *Router) WithTransfer(fn TransferFunc) *Router {
	r.transfer = fn
	return r
}

func (r *Router) Provider() storage.Provider {
	return r.provider
}

// HTTPTransfer uploads with the client matching the session protocol.
func HTTPTransfer(hc *http.Client) TransferFunc {
	return func(ctx context.Context, s *storage.Session, body io.ReadSeeker, onProgress transfer.ProgressFunc) error {
		c, err := transfer.ForSession(s, hc)
		if err != nil {
			return err
		}

		return c.Transfer(ctx, s, body, onProgress)
	}
}

func (r *Router) For(kind upload.Kind) (Handler, error) {
	switch kind {
	case upload.KindWorkspace:
		return r.workspace, nil
	case upload.KindLink:
		return r.link, nil
	default:
		return nil, upload.NewValidationError(upload.CodeWrongContext, "context", upload.MessageFor(upload.CodeWrongContext))
	}
}

// Prepare checks the pre-conditions of h without touching storage.
func (r *Router) Prepare(ctx context.Context, h *upload.Handle) error {
	hd, err := r.For(h.Context.Kind)
	if err != nil {
		return err
	}

	return hd.Prepare(ctx, h)
}

// Process runs a prepared upload from session creation to a committed row.
func (r *Router) Process(ctx context.Context, h *upload.Handle) (*upload.Result, error) {
	s, err := r.Initiate(ctx, h)
	if err != nil {
		return nil, err
	}

	body, err := h.Source.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload source, %w", err)
	}
	defer body.Close()

	if err := r.transfer(ctx, s, body, h.Progress); err != nil {
		if ctx.Err() != nil {
			return nil, &upload.CancelledError{FileID: h.FileID}
		}
		return nil, err
	}

	h.Processing()

	return r.Finalize(ctx, h, s)
}

// Initiate opens a resumable session at the prepared destination.
func (r *Router) Initiate(ctx context.Context, h *upload.Handle) (*storage.Session, error) {
	hd, err := r.For(h.Context.Kind)
	if err != nil {
		return nil, err
	}

	s, err := r.provider.InitiateResumableUpload(ctx, storage.InitiateRequest{
		FileName:    h.SanitizedName,
		Size:        h.Size,
		ContentType: h.MimeType,
		Bucket:      h.Bucket,
		Path:        h.Destination,
		Metadata:    hd.Metadata(h),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Upload session created",
		zap.String("file_id", h.FileID),
		zap.String("session_id", s.ID),
		zap.String("protocol", string(s.Protocol)),
	)

	return s, nil
}

// Finalize checks the object really landed and writes its metadata row.
// An object that is verified but never committed stays in storage for
// reconciliation to find.
func (r *Router) Finalize(ctx context.Context, h *upload.Handle, s *storage.Session) (*upload.Result, error) {
	hd, err := r.For(h.Context.Kind)
	if err != nil {
		return nil, err
	}

	if s.Expired(r.now()) {
		return nil, storage.NewError(r.provider.Name(), "finalize", storage.CodeSessionExpired, errors.New("session expired before completion"))
	}

	v, err := r.provider.VerifyUpload(ctx, s.ID, h.Bucket, h.Destination)
	if err != nil {
		return nil, err
	}

	if !v.Success {
		return nil, storage.NewError(r.provider.Name(), "verify", storage.CodeVerificationFailed, storage.ErrNotFound)
	}

	if v.Size != h.Size {
		return nil, storage.NewError(r.provider.Name(), "verify", storage.CodeVerificationFailed,
			fmt.Errorf("%w, expected %d bytes, found %d", storage.ErrSizeMismatch, h.Size, v.Size))
	}

	if ctx.Err() != nil {
		zap.L().Warn("Upload cancelled after the object was stored",
			zap.String("file_id", h.FileID),
			zap.String("bucket", h.Bucket),
			zap.String("path", h.Destination),
		)
		return nil, &upload.CancelledError{FileID: h.FileID}
	}

	f, batch := hd.Record(h)
	f.ID = uuid.NewString()
	f.StorageProvider = r.provider.Name()
	f.CreatedAt = r.now().Unix()

	if err := r.repo.CommitFile(ctx, f, batch); err != nil {
		if errors.Is(err, repository.ErrLinkLimitReached) {
			// Other files took the last slots while this one was in flight
			if derr := r.provider.DeleteFile(ctx, h.Destination, h.Bucket); derr != nil {
				zap.L().Warn("Failed to remove upload rejected by link limit",
					zap.String("bucket", h.Bucket),
					zap.String("path", h.Destination),
					zap.Error(derr),
				)
			}
			return nil, precondition(upload.CodeLinkLimitReached, "linkId")
		}

		return nil, &upload.MetadataCommitError{Path: h.Destination, Bucket: h.Bucket, Err: err}
	}

	if r.quota != nil {
		r.quota.Invalidate(ctx, h.OwnerID)
	}

	return &upload.Result{
		RecordID:    f.ID,
		StoragePath: h.Destination,
		Bucket:      h.Bucket,
		URL:         v.URL,
	}, nil
}

// fileRecord fills the columns every handler shares.
func fileRecord(h *upload.Handle) *model.File {
	return &model.File{
		UserID:       h.OwnerID,
		BatchID:      h.BatchID,
		FileName:     h.SanitizedName,
		OriginalName: h.Name,
		FileSize:     h.Size,
		MimeType:     h.MimeType,
		Category:     h.Category,
		StoragePath:  h.Destination,
		Bucket:       h.Bucket,
	}
}

const (
	tokenCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength  = 10
)

// destination builds an object key that is unique per call. Files sharing a
// name, and repeated attempts of one file, never write to the same key.
func destination(prefix string, t time.Time, name string) (string, error) {
	token, err := gonanoid.Generate(tokenCharset, tokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate object name, %w", err)
	}

	return fmt.Sprintf("%s/%d_%s_%s", prefix, t.UnixMilli(), token, name), nil
}

func precondition(code, field string) error {
	return upload.NewValidationError(code, field, upload.MessageFor(code))
}
