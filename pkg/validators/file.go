// Package validators checks files and form input before an upload is
// accepted. Nothing here touches storage or the database.
package validators

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize is the ceiling applied when the caller doesn't supply a
// tighter one.
const DefaultMaxFileSize int64 = 5 << 30

const maxFileNameSize = 255

// Error codes
const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeBlockedFileType = "BLOCKED_FILE_TYPE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeQuotaUnknown    = "QUOTA_CHECK_FAILED"
)

// Warning codes
const (
	CodeNearQuotaLimit  = "NEAR_QUOTA_LIMIT"
	CodeInvalidFileName = "INVALID_FILENAME"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeMimeMismatch    = "MIME_MISMATCH"
)

var blockedExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs", ".vbe", ".js", ".jse",
	".ws", ".wsf", ".wsc", ".wsh", ".msi", ".msp", ".dll", ".cpl", ".jar", ".ps1",
	".psm1", ".sh", ".app", ".deb", ".rpm",
}

// QuotaResult is the outcome of a storage quota check. Err is set whenever
// the check could not be completed, in which case CanUpload is always false.
type QuotaResult struct {
	CanUpload  bool    `json:"canUpload"`
	Used       int64   `json:"used"`
	Limit      int64   `json:"limit"`
	Remaining  int64   `json:"remaining"`
	Percentage float64 `json:"percentage"`
	NearLimit  bool    `json:"nearLimit"`
	Err        error   `json:"-"`
}

type QuotaChecker interface {
	Check(ctx context.Context, userID string, size int64) QuotaResult
}

// FileDescriptor is what the validator knows about a candidate file. Head is
// optional and holds the first bytes of the content for sniffing.
type FileDescriptor struct {
	Name     string
	Size     int64
	MimeType string
	Head     []byte
}

type Options struct {
	MaxFileSize  int64    // 0 uses DefaultMaxFileSize
	AllowedTypes []string // Empty allows every type
	CheckQuota   bool
	UserID       string
}

type Issue struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field"`
	Details map[string]any `json:"details,omitempty"`
}

type Result struct {
	Valid    bool          `json:"valid"`
	Errors   []Issue       `json:"errors"`
	Warnings []Issue       `json:"warnings"`
	Quota    *QuotaResult `json:"quota,omitempty"`
}

func (r *Result) addError(i Issue) { r.Errors = append(r.Errors, i) }
func (r *Result) addWarning(i Issue) { r.Warnings = append(r.Warnings, i) }

// HasError reports whether an error with the given code was produced.
func (r *Result) HasError(code string) bool {
	return slices.ContainsFunc(r.Errors, func(i Issue) bool { return i.Code == code })
}

func (r *Result) HasWarning(code string) bool {
	return slices.ContainsFunc(r.Warnings, func(i Issue) bool { return i.Code == code })
}

// ValidateFile runs every check against f and reports all problems at once.
// Only the quota check touches the network and nothing is mutated.
func ValidateFile(ctx context.Context, f FileDescriptor, opts Options, qc QuotaChecker) *Result {
	r := &Result{Errors: []Issue{}, Warnings: []Issue{}}

	limit := opts.MaxFileSize
	if limit <= 0 || limit > DefaultMaxFileSize {
		limit = DefaultMaxFileSize
	}

	if f.Size > limit {
		r.addError(Issue{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("File is %s, the limit is %s", humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(limit))),
			Field:   "size",
			Details: map[string]any{"size": f.Size, "maxSize": limit},
		})
	}

	if f.Size == 0 {
		r.addWarning(Issue{
			Code:    CodeEmptyFile,
			Message: "File is empty",
			Field:   "size",
		})
	}

	ext := strings.ToLower(filepath.Ext(f.Name))
	if ext != "" && slices.Contains(blockedExtensions, ext) {
		r.addError(Issue{
			Code:    CodeBlockedFileType,
			Message: fmt.Sprintf("Files with the %s extension are not allowed", ext),
			Field:   "name",
			Details: map[string]any{"extension": ext},
		})
	}

	if len(opts.AllowedTypes) > 0 && !slices.Contains(opts.AllowedTypes, baseMime(f.MimeType)) {
		r.addError(Issue{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("File type %q is not accepted", f.MimeType),
			Field:   "type",
			Details: map[string]any{"mimeType": f.MimeType, "allowedTypes": opts.AllowedTypes},
		})
	}

	if opts.CheckQuota && qc != nil {
		checkQuota(ctx, r, f, opts.UserID, qc)
	}

	if problem := fileNameProblem(f.Name); problem != "" {
		r.addWarning(Issue{
			Code:    CodeInvalidFileName,
			Message: problem,
			Field:   "name",
			Details: map[string]any{"sanitized": SanitizeFileName(f.Name)},
		})
	}

	if len(f.Head) > 0 {
		if detected, mismatch := DetectMimeMismatch(f.Head, f.MimeType); mismatch {
			r.addWarning(Issue{
				Code:    CodeMimeMismatch,
				Message: fmt.Sprintf("File content looks like %s, not %s", detected, f.MimeType),
				Field:   "type",
				Details: map[string]any{"declared": f.MimeType, "detected": detected},
			})
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func checkQuota(ctx context.Context, r *Result, f FileDescriptor, userID string, qc QuotaChecker) {
	q := qc.Check(ctx, userID, f.Size)
	r.Quota = &q

	switch {
	case q.Err != nil:
		r.addError(Issue{
			Code:    CodeQuotaUnknown,
			Message: "Storage usage could not be verified",
			Field:   "size",
		})
	case !q.CanUpload:
		r.addError(Issue{
			Code:    CodeQuotaExceeded,
			Message: fmt.Sprintf("Not enough storage left, %s remaining", humanize.IBytes(uint64(q.Remaining))),
			Field:   "size",
			Details: map[string]any{"used": q.Used, "limit": q.Limit, "remaining": q.Remaining},
		})
	case q.NearLimit:
		r.addWarning(Issue{
			Code:    CodeNearQuotaLimit,
			Message: fmt.Sprintf("This upload brings storage usage to %.0f%%", q.Percentage),
			Field:   "size",
			Details: map[string]any{"percentage": q.Percentage},
		})
	}
}

func fileNameProblem(name string) string {
	switch {
	case name == "":
		return "File name is empty"
	case len(name) > maxFileNameSize:
		return fmt.Sprintf("File name is longer than %d characters", maxFileNameSize)
	case strings.Contains(name, "..") || strings.ContainsAny(name, `/\`):
		return "File name contains path segments"
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "File name contains control characters"
	}

	return ""
}

// SanitizeFileName strips directories, control characters and characters
// that are unsafe in object keys. The result is never empty.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`<>:"|?*#%{}^~[]`+"`", r):
			return '_'
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, name)

	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "file"
	}

	if len(name) > maxFileNameSize {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFileNameSize-len(ext)] + ext
	}

	return name
}

// DetectMimeMismatch sniffs head and reports the detected type when it
// clearly contradicts the declared one. Generic results never count as a
// mismatch.
func DetectMimeMismatch(head []byte, declared string) (string, bool) {
	m := mimetype.Detect(head)
	detected := baseMime(m.String())

	declared = baseMime(declared)
	if declared == "" || declared == "application/octet-stream" ||
		detected == "application/octet-stream" || detected == "text/plain" {
		return detected, false
	}

	return detected, !m.Is(declared)
}

// Category groups a file by what it is for display and filtering. When the
// declared type is missing the extension decides.
func Category(mimeType, name string) string {
	mimeType = baseMime(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = baseMime(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))))
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case mimeType == "application/pdf", mimeType == "application/msword", mimeType == "application/rtf",
		mimeType == "text/csv", strings.HasPrefix(mimeType, "application/vnd."):
		return "document"
	case slices.Contains(codeTypes, mimeType):
		return "code"
	}

	if m := mimetype.Lookup(mimeType); m != nil {
		for p := m; p != nil; p = p.Parent() {
			if slices.Contains(archiveTypes, p.String()) {
				return "archive"
			}
		}
	}

	if strings.HasPrefix(mimeType, "text/") {
		return "document"
	}

	return "other"
}

var (
	codeTypes    = []string{"application/json", "application/javascript", "application/xml", "text/html", "text/css", "text/javascript", "text/xml", "text/x-go", "text/x-python"}
	archiveTypes = []string{"application/zip", "application/gzip", "application/x-tar", "application/x-7z-compressed", "application/x-rar-compressed", "application/x-bzip2", "application/x-xz"}
)

func baseMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}

	return strings.ToLower(strings.TrimSpace(m))
}
