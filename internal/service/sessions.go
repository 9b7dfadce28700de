package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foldly/upload-api/internal/handler"
	"foldly/upload-api/internal/storage"
	"foldly/upload-api/internal/upload"
	"foldly/upload-api/pkg/validators"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("upload session not found or expired")

// BeginRequest describes a file the client is about to send straight to
// storage.
type BeginRequest struct {
	Name     string         `json:"name" binding:"required"`
	Size     int64          `json:"size" binding:"gte=0"`
	MimeType string         `json:"mimeType"`
	Context  upload.Context `json:"context"`
}

type pendingUpload struct {
	handle  *upload.Handle
	session *storage.Session
}

// Sessions tracks direct uploads between Begin and Complete. Entries live
// as long as the storage session they belong to.
type Sessions struct {
	router       *handler.Router
	quota        validators.QuotaChecker
	cache        *ttlcache.Cache
	maxFileSize  int64
	allowedTypes []string
}

func NewSessions(router *handler.Router, qc validators.QuotaChecker, maxFileSize int64, allowedTypes []string) *Sessions {
	cache := ttlcache.NewCache()
	cache.SkipTTLExtensionOnHit(true)
	cache.SetExpirationReasonCallback(func(key string, reason ttlcache.EvictionReason, _ interface{}) {
		if reason == ttlcache.Closed || reason == ttlcache.Removed {
			return
		}
		zap.L().Debug("Upload session expired without completing", zap.String("session_id", key))
	})

	return &Sessions{
		router:       router,
		quota:        qc,
		cache:        cache,
		maxFileSize:  maxFileSize,
		allowedTypes: allowedTypes,
	}
}

// Begin validates the file, checks the destination and opens a storage
// session the client uploads into. Validation problems come back in the
// result together with a *upload.ValidationError.
func (s *Sessions) Begin(ctx context.Context, req BeginRequest) (*storage.Session, *validators.Result, error) {
	if err := req.Context.Validate(); err != nil {
		return nil, nil, err
	}

	res := validators.ValidateFile(ctx, validators.FileDescriptor{
		Name:     req.Name,
		Size:     req.Size,
		MimeType: req.MimeType,
	}, validators.Options{
		MaxFileSize:  s.maxFileSize,
		AllowedTypes: s.allowedTypes,
		CheckQuota:   req.Context.Kind == upload.KindWorkspace,
		UserID:       req.Context.Owner(),
	}, s.quota)
	if !res.Valid {
		return nil, res, &upload.ValidationError{Issues: res.Errors}
	}

	h := &upload.Handle{
		FileID:        uuid.NewString(),
		BatchID:       uuid.NewString(),
		Name:          req.Name,
		SanitizedName: validators.SanitizeFileName(req.Name),
		Size:          req.Size,
		MimeType:      req.MimeType,
		Category:      validators.Category(req.MimeType, req.Name),
		Context:       req.Context,
	}

	if err := s.router.Prepare(ctx, h); err != nil {
		return nil, res, err
	}

	sess, err := s.router.Initiate(ctx, h)
	if err != nil {
		return nil, res, err
	}

	if err := s.cache.SetWithTTL(sess.ID, &pendingUpload{handle: h, session: sess}, time.Until(sess.ExpiresAt)); err != nil {
		return nil, res, fmt.Errorf("failed to register upload session, %w", err)
	}

	zap.L().Info("Direct upload started",
		zap.String("session_id", sess.ID),
		zap.String("kind", string(req.Context.Kind)),
		zap.String("path", sess.Path),
	)

	return sess, res, nil
}

// Complete verifies and commits the upload of sessionID. Workspace sessions
// can only be completed by the user who started them.
func (s *Sessions) Complete(ctx context.Context, sessionID, userID string) (*upload.Result, error) {
	v, err := s.cache.Get(sessionID)
	if err != nil {
		return nil, s.expired(ErrSessionNotFound)
	}

	p := v.(*pendingUpload)
	if p.handle.Context.Kind == upload.KindWorkspace && p.handle.Context.Owner() != userID {
		return nil, s.expired(ErrSessionNotFound)
	}

	res, err := s.router.Finalize(ctx, p.handle, p.session)

	if upload.CodeOf(err) == upload.CodeLinkLimitReached {
		// The object is already gone.
		s.cache.Remove(sessionID)
		return nil, err
	}

	var mce *upload.MetadataCommitError
	if err != nil && !errors.As(err, &mce) {
		// The client may still finish sending bytes, keep the session.
		return nil, err
	}

	s.cache.Remove(sessionID)

	if err != nil {
		zap.L().Error("Upload stored without metadata, object needs reconciliation",
			zap.String("session_id", sessionID),
			zap.String("bucket", mce.Bucket),
			zap.String("path", mce.Path),
			zap.Error(err),
		)
		return nil, err
	}

	zap.L().Info("Direct upload completed", zap.String("session_id", sessionID), zap.String("record_id", res.RecordID))

	return res, nil
}

func (s *Sessions) expired(err error) error {
	return storage.NewError(s.router.Provider().Name(), "complete", storage.CodeSessionExpired, err)
}

func (s *Sessions) Close() error {
	return s.cache.Close()
}
