package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	conf "foldly/upload-api/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	gcsChunkSize    = 8 << 20
	gcsRegion       = "auto"
	gcsInitiateSign = 15 * time.Minute
)

// GCSProvider talks to Google Cloud Storage through its XML interoperability
// API using HMAC keys. Resumable sessions follow the GCS protocol, the
// returned session URI accepts chunked PUT requests.
type GCSProvider struct {
	client     *minio.Client
	httpClient *http.Client
	scheme     string
	endpoint   string
	now        func() time.Time
}

func NewGCS(c conf.GCS) (*GCSProvider, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: gcsRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client, %w", err)
	}

	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}

	return &GCSProvider{
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		scheme:     scheme,
		endpoint:   c.Endpoint,
		now:        time.Now,
	}, nil
}

func (p *GCSProvider) Name() string { return ProviderGCS }

func (p *GCSProvider) objectURL(bucket, path string) string {
	return fmt.Sprintf("%s://%s/%s/%s", p.scheme, p.endpoint, bucket, escapePath(path))
}

func (p *GCSProvider) UploadFile(ctx context.Context, body io.Reader, size int64, fileName, path, bucket, contentType string, metadata map[string]string) (*UploadResult, error) {
	meta := map[string]string{"filename": fileName}
	for k, v := range metadata {
		meta[k] = v
	}

	_, err := p.client.PutObject(ctx, bucket, path, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=" + cacheControl,
		UserMetadata: meta,
	})
	if err != nil {
		return nil, p.wrap("upload", CodeUploadFailed, err)
	}

	return &UploadResult{URL: p.objectURL(bucket, path), StoragePath: path}, nil
}

// InitiateResumableUpload starts a GCS resumable session with a signed POST.
// The Location header of the reply is the session URI, no object bytes are
// written here.
func (p *GCSProvider) InitiateResumableUpload(ctx context.Context, req InitiateRequest) (*Session, error) {
	hdr := http.Header{}
	hdr.Set("x-goog-resumable", "start")
	hdr.Set("Content-Type", req.ContentType)
	for k, v := range req.Metadata {
		hdr.Set("x-goog-meta-"+k, v)
	}

	signed, err := p.client.PresignHeader(ctx, http.MethodPost, req.Bucket, req.Path, gcsInitiateSign, nil, hdr)
	if err != nil {
		return nil, NewError(ProviderGCS, "initiate", CodeUploadFailed, fmt.Errorf("failed to sign session request, %w", err))
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, signed.String(), http.NoBody)
	if err != nil {
		return nil, NewError(ProviderGCS, "initiate", CodeUploadFailed, err)
	}
	hreq.Header = hdr.Clone()

	res, err := p.httpClient.Do(hreq)
	if err != nil {
		return nil, NewError(ProviderGCS, "initiate", CodeUnavailable, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, NewError(ProviderGCS, "initiate", CodeUploadFailed, fmt.Errorf("bucket '%s', %w", req.Bucket, ErrBucketNotFound))
	case res.StatusCode >= 500:
		return nil, NewError(ProviderGCS, "initiate", CodeUnavailable, fmt.Errorf("unexpected status %d", res.StatusCode))
	case res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK:
		return nil, NewError(ProviderGCS, "initiate", CodeUploadFailed, fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	location := res.Header.Get("Location")
	if location == "" {
		return nil, NewError(ProviderGCS, "initiate", CodeUploadFailed, fmt.Errorf("session response has no Location header"))
	}

	return &Session{
		ID:          uuid.NewString(),
		Provider:    ProviderGCS,
		Protocol:    ProtocolResumable,
		URL:         location,
		Metadata:    req.Metadata,
		ChunkSize:   gcsChunkSize,
		ExpiresAt:   p.now().Add(SessionTTL),
		Path:        req.Path,
		Bucket:      req.Bucket,
		ContentType: req.ContentType,
		Size:        req.Size,
	}, nil
}

func (p *GCSProvider) VerifyUpload(ctx context.Context, sessionID, bucket, finalPath string) (*VerifyResult, error) {
	info, err := p.client.StatObject(ctx, bucket, finalPath, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, NewError(ProviderGCS, "verify", CodeVerificationFailed, ErrNotFound)
		}

		return nil, p.wrap("verify", CodeUnavailable, err)
	}

	zap.L().Debug("Verified upload", zap.String("session_id", sessionID), zap.String("path", finalPath))

	return &VerifyResult{
		Success: true,
		URL:     p.objectURL(bucket, finalPath),
		Size:    info.Size,
	}, nil
}

func (p *GCSProvider) DeleteFile(ctx context.Context, path, bucket string) error {
	err := p.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return p.wrap("delete", CodeUnavailable, err)
	}

	return nil
}

func (p *GCSProvider) GetSignedURL(ctx context.Context, path, bucket string, expiresIn time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, bucket, path, signedURLExpiry(expiresIn), nil)
	if err != nil {
		return "", p.wrap("sign", CodeUnavailable, err)
	}

	return u.String(), nil
}

func (p *GCSProvider) FileExists(ctx context.Context, path, bucket string) (bool, error) {
	_, err := p.client.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}

		return false, p.wrap("exists", CodeUnavailable, err)
	}

	return true, nil
}

func (p *GCSProvider) ListFiles(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for obj := range p.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, p.wrap("list", CodeUnavailable, obj.Err)
		}

		objects = append(objects, ObjectInfo{
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	return objects, nil
}

func (p *GCSProvider) wrap(op, code string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return NewError(ProviderGCS, op, CodeUploadFailed, fmt.Errorf("%v, %w", err, ErrBucketNotFound))
	}

	return NewError(ProviderGCS, op, code, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}
