package validators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mb  = int64(1) << 20
	gib = int64(1) << 30
)

type staticQuota struct {
	res   QuotaResult
	calls int
}

func (s *staticQuota) Check(_ context.Context, _ string, _ int64) QuotaResult {
	s.calls++
	return s.res
}

var pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestValidateFile_TooLargeAgainstDefault(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "movie.mp4", Size: 6 * gib, MimeType: "video/mp4"}, Options{}, nil)

	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeFileTooLarge, r.Errors[0].Code)
	assert.Equal(t, "size", r.Errors[0].Field)
	assert.Equal(t, DefaultMaxFileSize, r.Errors[0].Details["maxSize"])
	assert.Empty(t, r.Warnings)
}

func TestValidateFile_CallerCeiling(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "a.png", Size: 11 * mb, MimeType: "image/png"}, Options{MaxFileSize: 10 * mb}, nil)
	assert.True(t, r.HasError(CodeFileTooLarge))

	// A looser ceiling than the default never raises it
	r = ValidateFile(context.Background(), FileDescriptor{Name: "a.bin", Size: 6 * gib}, Options{MaxFileSize: 10 * gib}, nil)
	assert.True(t, r.HasError(CodeFileTooLarge))
}

func TestValidateFile_BlockedExtension(t *testing.T) {
	for _, name := range []string{"setup.exe", "SETUP.EXE", "run.Sh", "lib.dll"} {
		r := ValidateFile(context.Background(), FileDescriptor{Name: name, Size: 10}, Options{}, nil)
		assert.True(t, r.HasError(CodeBlockedFileType), name)
	}

	r := ValidateFile(context.Background(), FileDescriptor{Name: "exe.txt", Size: 10}, Options{}, nil)
	assert.True(t, r.Valid)
}

func TestValidateFile_AllowList(t *testing.T) {
	opts := Options{AllowedTypes: []string{"image/png", "application/pdf"}}

	r := ValidateFile(context.Background(), FileDescriptor{Name: "a.png", Size: 10, MimeType: "image/png"}, opts, nil)
	assert.True(t, r.Valid)

	r = ValidateFile(context.Background(), FileDescriptor{Name: "a.gif", Size: 10, MimeType: "image/gif"}, opts, nil)
	assert.True(t, r.HasError(CodeInvalidFileType))
}

func TestValidateFile_ReportsEverything(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "../evil.exe", Size: 6 * gib, MimeType: "application/x-msdownload"},
		Options{AllowedTypes: []string{"image/png"}}, nil)

	assert.False(t, r.Valid)
	assert.True(t, r.HasError(CodeFileTooLarge))
	assert.True(t, r.HasError(CodeBlockedFileType))
	assert.True(t, r.HasError(CodeInvalidFileType))
	assert.True(t, r.HasWarning(CodeInvalidFileName))
}

func TestValidateFile_PathTraversalWarns(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "../../etc/passwd.txt", Size: 100, MimeType: "text/plain"}, Options{}, nil)

	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, CodeInvalidFileName, r.Warnings[0].Code)
	assert.Equal(t, "passwd.txt", r.Warnings[0].Details["sanitized"])
}

func TestValidateFile_FileNameWarnings(t *testing.T) {
	tests := []string{
		strings.Repeat("a", 256) + ".txt",
		"bad\x00name.txt",
		"tab\tname.txt",
		`dir\file.txt`,
	}

	for _, name := range tests {
		r := ValidateFile(context.Background(), FileDescriptor{Name: name, Size: 1}, Options{}, nil)
		assert.True(t, r.Valid, name)
		assert.True(t, r.HasWarning(CodeInvalidFileName), name)
	}
}

func TestValidateFile_EmptyFileWarns(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "a.txt", Size: 0}, Options{}, nil)

	assert.True(t, r.Valid)
	assert.True(t, r.HasWarning(CodeEmptyFile))
}

func TestValidateFile_Quota(t *testing.T) {
	ctx := context.Background()
	f := FileDescriptor{Name: "photo.png", Size: 10 * mb, MimeType: "image/png"}

	t.Run("near limit passes with warning", func(t *testing.T) {
		qc := &staticQuota{res: QuotaResult{CanUpload: true, Used: 490 * mb, Limit: 500 * mb, Remaining: 10 * mb, Percentage: 100, NearLimit: true}}
		r := ValidateFile(ctx, f, Options{CheckQuota: true, UserID: "u"}, qc)

		assert.True(t, r.Valid)
		assert.True(t, r.HasWarning(CodeNearQuotaLimit))
		require.NotNil(t, r.Quota)
		assert.True(t, r.Quota.CanUpload)
	})

	t.Run("over limit fails", func(t *testing.T) {
		qc := &staticQuota{res: QuotaResult{Used: 495 * mb, Limit: 500 * mb, Remaining: 5 * mb, Percentage: 101}}
		r := ValidateFile(ctx, f, Options{CheckQuota: true, UserID: "u"}, qc)

		assert.False(t, r.Valid)
		assert.True(t, r.HasError(CodeQuotaExceeded))
	})

	t.Run("lookup failure fails closed", func(t *testing.T) {
		qc := &staticQuota{res: QuotaResult{Err: errors.New("timeout")}}
		r := ValidateFile(ctx, f, Options{CheckQuota: true, UserID: "u"}, qc)

		assert.False(t, r.Valid)
		assert.True(t, r.HasError(CodeQuotaUnknown))
	})

	t.Run("skipped when not requested", func(t *testing.T) {
		qc := &staticQuota{res: QuotaResult{Used: 499 * mb, Limit: 500 * mb}}
		r := ValidateFile(ctx, f, Options{}, qc)

		assert.True(t, r.Valid)
		assert.Zero(t, qc.calls)
		assert.Nil(t, r.Quota)
	})
}

func TestValidateFile_MimeMismatch(t *testing.T) {
	r := ValidateFile(context.Background(), FileDescriptor{Name: "a.pdf", Size: int64(len(pngHead)), MimeType: "application/pdf", Head: pngHead}, Options{}, nil)

	assert.True(t, r.Valid)
	assert.True(t, r.HasWarning(CodeMimeMismatch))

	r = ValidateFile(context.Background(), FileDescriptor{Name: "a.png", Size: int64(len(pngHead)), MimeType: "image/png", Head: pngHead}, Options{}, nil)
	assert.False(t, r.HasWarning(CodeMimeMismatch))
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd.txt":  "passwd.txt",
		`C:\Users\me\photo.jpg`: "photo.jpg",
		"my holiday photo.png":  "my_holiday_photo.png",
		"what?.txt":             "what_.txt",
		".hidden":               "hidden",
		"":                      "file",
		"..":                    "file",
		"ctrl\x01char.txt":      "ctrlchar.txt",
	}

	for in, want := range tests {
		assert.Equal(t, want, SanitizeFileName(in), in)
	}

	long := SanitizeFileName(strings.Repeat("x", 300) + ".png")
	assert.Len(t, long, maxFileNameSize)
	assert.True(t, strings.HasSuffix(long, ".png"))
}

func TestCategory(t *testing.T) {
	tests := []struct {
		mime, name, want string
	}{
		{"image/png", "a.png", "image"},
		{"video/mp4", "a.mp4", "video"},
		{"audio/mpeg", "a.mp3", "audio"},
		{"application/pdf", "a.pdf", "document"},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "a.docx", "document"},
		{"application/zip", "a.zip", "archive"},
		{"application/json", "a.json", "code"},
		{"text/plain; charset=utf-8", "a.txt", "document"},
		{"", "photo.png", "image"},
		{"application/octet-stream", "blob", "other"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Category(tt.mime, tt.name), tt.mime)
	}
}

func TestEmailValidator(t *testing.T) {
	assert.ErrorIs(t, EmailValidator(""), ErrEmailEmpty)
	assert.ErrorIs(t, EmailValidator("not-an-email"), ErrEmailInvalid)
	assert.NoError(t, EmailValidator("ann@example.com"))
}

func TestLinkPasswordValidator(t *testing.T) {
	assert.ErrorIs(t, LinkPasswordValidator(""), ErrPasswordEmpty)
	assert.ErrorIs(t, LinkPasswordValidator(strings.Repeat("p", 256)), ErrPasswordTooLong)
	assert.NoError(t, LinkPasswordValidator("hunter22"))
}
