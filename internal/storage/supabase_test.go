package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	conf "foldly/upload-api/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>files</Name><Prefix>workspaces/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>workspaces/w/root/1_a.png</Key><LastModified>2024-01-01T00:00:00.000Z</LastModified><ETag>"abc"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>workspaces/w/root/2_b.png</Key><LastModified>2024-01-02T00:00:00.000Z</LastModified><ETag>"def"</ETag><Size>20</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

type fakeBackend struct {
	mu       sync.Mutex
	objects  map[string]int64
	requests []string
	status   int // Forced status for upload signing, 0 means 200
}

func (f *fakeBackend) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func (f *fakeBackend) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, r := range f.requests {
		if strings.HasPrefix(r, "PUT ") || strings.HasPrefix(r, "PATCH ") {
			out = append(out, r)
		}
	}
	return out
}

func newSupabaseBackend(t *testing.T) (*SupabaseProvider, *fakeBackend) {
	t.Helper()

	fb := &fakeBackend{objects: map[string]int64{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.record(r)

		if after, ok := strings.CutPrefix(r.URL.Path, "/storage/v1/object/upload/sign/"); ok {
			if r.Header.Get("Authorization") != "Bearer service-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if fb.status != 0 {
				w.WriteHeader(fb.status)
				return
			}
			fmt.Fprintf(w, `{"url":"/object/upload/sign/%s?token=signed-token"}`, after)
			return
		}

		key, ok := strings.CutPrefix(r.URL.Path, "/storage/v1/s3/files/")
		if !ok {
			if r.URL.Path == "/storage/v1/s3/files" || r.URL.Path == "/storage/v1/s3/files/" {
				w.Header().Set("Content-Type", "application/xml")
				fmt.Fprint(w, listXML)
				return
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}

		fb.mu.Lock()
		defer fb.mu.Unlock()

		switch r.Method {
		case http.MethodHead:
			size, ok := fb.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprint(size))
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			fb.objects[key] = r.ContentLength
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if _, ok := fb.objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
				return
			}
			delete(fb.objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	p, err := NewSupabase(context.Background(), conf.Supabase{
		URL:         srv.URL,
		ServiceKey:  "service-key",
		Region:      "us-east-1",
		S3AccessKey: "access",
		S3SecretKey: "secret",
	})
	require.NoError(t, err)

	return p, fb
}

func TestSupabase_InitiateResumableUpload(t *testing.T) {
	p, fb := newSupabaseBackend(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	s, err := p.InitiateResumableUpload(context.Background(), InitiateRequest{
		FileName:    "a.png",
		Size:        1024,
		ContentType: "image/png",
		Bucket:      "files",
		Path:        "workspaces/w/root/1_a.png",
		Metadata:    map[string]string{"userId": "u", "bucketName": "ignored"},
	})
	require.NoError(t, err)

	assert.Equal(t, ProtocolTUS, s.Protocol)
	assert.Equal(t, ProviderSupabase, s.Provider)
	assert.True(t, strings.HasSuffix(s.URL, "/storage/v1/upload/resumable"))
	assert.Equal(t, "signed-token", s.Headers["x-signature"])
	assert.NotContains(t, s.Headers, "Authorization")
	assert.Equal(t, int64(6<<20), s.ChunkSize)
	assert.Equal(t, now.Add(24*time.Hour), s.ExpiresAt)
	assert.Equal(t, "files", s.Metadata["bucketName"])
	assert.Equal(t, "workspaces/w/root/1_a.png", s.Metadata["objectName"])
	assert.Equal(t, "image/png", s.Metadata["contentType"])
	assert.Equal(t, "u", s.Metadata["userId"])
	assert.NotEmpty(t, s.ID)

	assert.Empty(t, fb.writes())
}

func TestSupabase_InitiateErrors(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusNotFound, CodeUploadFailed},
		{http.StatusServiceUnavailable, CodeUnavailable},
		{http.StatusBadRequest, CodeUploadFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p, fb := newSupabaseBackend(t)
			fb.status = tt.status

			_, err := p.InitiateResumableUpload(context.Background(), InitiateRequest{Bucket: "files", Path: "a"})

			var se *StorageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code())
		})
	}
}

func TestSupabase_ObjectLifecycle(t *testing.T) {
	p, fb := newSupabaseBackend(t)
	ctx := context.Background()

	exists, err := p.FileExists(ctx, "a/b.txt", "files")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = p.VerifyUpload(ctx, "sess", "files", "a/b.txt")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeVerificationFailed, se.Code())
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := p.UploadFile(ctx, strings.NewReader("hello"), 5, "b.txt", "a/b.txt", "files", "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", res.StoragePath)
	assert.Contains(t, fb.writes(), "PUT /storage/v1/s3/files/a/b.txt")

	exists, err = p.FileExists(ctx, "a/b.txt", "files")
	require.NoError(t, err)
	assert.True(t, exists)

	v, err := p.VerifyUpload(ctx, "sess", "files", "a/b.txt")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.Equal(t, int64(5), v.Size)
	assert.True(t, strings.HasSuffix(v.URL, "/storage/v1/object/files/a/b.txt"))

	require.NoError(t, p.DeleteFile(ctx, "a/b.txt", "files"))
	// Deleting twice is fine
	require.NoError(t, p.DeleteFile(ctx, "a/b.txt", "files"))
}

func TestSupabase_GetSignedURL(t *testing.T) {
	p, _ := newSupabaseBackend(t)

	u, err := p.GetSignedURL(context.Background(), "a/b.txt", "files", 0)
	require.NoError(t, err)
	assert.Contains(t, u, "/storage/v1/s3/files/a/b.txt")
	assert.Contains(t, u, "X-Amz-Expires=3600")

	u, err = p.GetSignedURL(context.Background(), "a/b.txt", "files", 5*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Expires=300")
}

func TestSupabase_ListFiles(t *testing.T) {
	p, _ := newSupabaseBackend(t)

	objs, err := p.ListFiles(context.Background(), "files", "workspaces/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "workspaces/w/root/1_a.png", objs[0].Path)
	assert.Equal(t, int64(20), objs[1].Size)
}

func TestSignedURLExpiry(t *testing.T) {
	assert.Equal(t, time.Hour, signedURLExpiry(0))
	assert.Equal(t, time.Hour, signedURLExpiry(-time.Second))
	assert.Equal(t, time.Minute, signedURLExpiry(time.Minute))
	assert.Equal(t, 7*24*time.Hour, signedURLExpiry(30*24*time.Hour))
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
}
