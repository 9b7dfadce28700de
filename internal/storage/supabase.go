package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	conf "foldly/upload-api/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	supabaseChunkSize = 6 << 20
	minMultipartSize  = 12 << 20
	cacheControl      = "3600"
)

// SupabaseProvider issues TUS sessions against Supabase Storage and handles
// every object operation through its S3 compatible endpoint.
type SupabaseProvider struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client

	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	now      func() time.Time
}

func NewSupabase(ctx context.Context, c conf.Supabase) (*SupabaseProvider, error) {
	base := strings.TrimRight(c.URL, "/")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3AccessKey,
			c.S3SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config, %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(base + "/storage/v1/s3")
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &SupabaseProvider{
		baseURL:    base,
		serviceKey: c.ServiceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		client:     client,
		presign:    s3.NewPresignClient(client),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = minMultipartSize
		}),
		now: time.Now,
	}, nil
}

func (p *SupabaseProvider) Name() string { return ProviderSupabase }

func (p *SupabaseProvider) objectURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", p.baseURL, bucket, path)
}

func (p *SupabaseProvider) UploadFile(ctx context.Context, body io.Reader, size int64, fileName, path, bucket, contentType string, metadata map[string]string) (*UploadResult, error) {
	meta := map[string]string{"filename": fileName}
	for k, v := range metadata {
		meta[k] = v
	}

	var err error
	if size >= minMultipartSize {
		_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(bucket),
			Key:          aws.String(path),
			Body:         body,
			ContentType:  aws.String(contentType),
			CacheControl: aws.String("max-age=" + cacheControl),
			Metadata:     meta,
		})
	} else {
		// Plain http endpoints can't sign a stream, give the SDK something seekable
		if _, ok := body.(io.ReadSeeker); !ok {
			data, rerr := io.ReadAll(body)
			if rerr != nil {
				return nil, NewError(ProviderSupabase, "upload", CodeUploadFailed, fmt.Errorf("failed to read body, %w", rerr))
			}
			body = bytes.NewReader(data)
		}

		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(path),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
			CacheControl:  aws.String("max-age=" + cacheControl),
			Metadata:      meta,
		})
	}
	if err != nil {
		return nil, p.wrap("upload", CodeUploadFailed, err)
	}

	return &UploadResult{URL: p.objectURL(bucket, path), StoragePath: path}, nil
}

type signedUploadResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// InitiateResumableUpload asks Supabase for a signed upload token scoped to
// the destination path. The session carries the token, never the service key.
func (p *SupabaseProvider) InitiateResumableUpload(ctx context.Context, req InitiateRequest) (*Session, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", p.baseURL, req.Bucket, escapePath(req.Path))

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, NewError(ProviderSupabase, "initiate", CodeUploadFailed, err)
	}
	hreq.Header.Set("Authorization", "Bearer "+p.serviceKey)
	hreq.Header.Set("apikey", p.serviceKey)

	res, err := p.httpClient.Do(hreq)
	if err != nil {
		return nil, NewError(ProviderSupabase, "initiate", CodeUnavailable, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, NewError(ProviderSupabase, "initiate", CodeUploadFailed, fmt.Errorf("bucket '%s', %w", req.Bucket, ErrBucketNotFound))
	case res.StatusCode >= 500:
		return nil, NewError(ProviderSupabase, "initiate", CodeUnavailable, fmt.Errorf("unexpected status %d", res.StatusCode))
	case res.StatusCode != http.StatusOK:
		return nil, NewError(ProviderSupabase, "initiate", CodeUploadFailed, fmt.Errorf("unexpected status %d: %s", res.StatusCode, body))
	}

	var signed signedUploadResponse
	if err := json.Unmarshal(body, &signed); err != nil {
		return nil, NewError(ProviderSupabase, "initiate", CodeUploadFailed, fmt.Errorf("failed to decode signed upload response, %w", err))
	}

	token := signed.Token
	if token == "" {
		if u, err := url.Parse(signed.URL); err == nil {
			token = u.Query().Get("token")
		}
	}
	if token == "" {
		return nil, NewError(ProviderSupabase, "initiate", CodeUploadFailed, errors.New("signed upload response has no token"))
	}

	meta := map[string]string{
		"bucketName":   req.Bucket,
		"objectName":   req.Path,
		"contentType":  req.ContentType,
		"cacheControl": cacheControl,
	}
	for k, v := range req.Metadata {
		if _, reserved := meta[k]; !reserved {
			meta[k] = v
		}
	}

	return &Session{
		ID:       uuid.NewString(),
		Provider: ProviderSupabase,
		Protocol: ProtocolTUS,
		URL:      p.baseURL + "/storage/v1/upload/resumable",
		Headers: map[string]string{
			"x-signature": token,
			"x-upsert":    "false",
		},
		Metadata:    meta,
		ChunkSize:   supabaseChunkSize,
		ExpiresAt:   p.now().Add(SessionTTL),
		Path:        req.Path,
		Bucket:      req.Bucket,
		ContentType: req.ContentType,
		Size:        req.Size,
	}, nil
}

func (p *SupabaseProvider) VerifyUpload(ctx context.Context, sessionID, bucket, finalPath string) (*VerifyResult, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(finalPath),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, NewError(ProviderSupabase, "verify", CodeVerificationFailed, ErrNotFound)
		}

		return nil, p.wrap("verify", CodeUnavailable, err)
	}

	zap.L().Debug("Verified upload", zap.String("session_id", sessionID), zap.String("path", finalPath))

	return &VerifyResult{
		Success: true,
		URL:     p.objectURL(bucket, finalPath),
		Size:    aws.ToInt64(out.ContentLength),
	}, nil
}

func (p *SupabaseProvider) DeleteFile(ctx context.Context, path, bucket string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return p.wrap("delete", CodeUnavailable, err)
	}

	return nil
}

func (p *SupabaseProvider) GetSignedURL(ctx context.Context, path, bucket string, expiresIn time.Duration) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(signedURLExpiry(expiresIn)))
	if err != nil {
		return "", p.wrap("sign", CodeUnavailable, err)
	}

	return req.URL, nil
}

func (p *SupabaseProvider) FileExists(ctx context.Context, path, bucket string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, p.wrap("exists", CodeUnavailable, err)
	}

	return true, nil
}

func (p *SupabaseProvider) ListFiles(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, p.wrap("list", CodeUnavailable, err)
		}

		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Path:         aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}

	return objects, nil
}

func (p *SupabaseProvider) wrap(op, code string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket" {
		return NewError(ProviderSupabase, op, CodeUploadFailed, fmt.Errorf("%s, %w", apiErr.ErrorMessage(), ErrBucketNotFound))
	}

	return NewError(ProviderSupabase, op, code, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}

	return strings.Join(parts, "/")
}
