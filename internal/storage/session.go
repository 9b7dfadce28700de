package storage

import "time"

const (
	ProviderSupabase = "supabase"
	ProviderGCS      = "gcs"
)

type Protocol string

const (
	ProtocolTUS       Protocol = "tus"
	ProtocolResumable Protocol = "resumable"
)

// Session is a resumable upload handle. It is handed to whoever moves the
// bytes and is never persisted.
type Session struct {
	ID          string            `json:"id"`
	Provider    string            `json:"provider"`
	Protocol    Protocol          `json:"protocol"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ChunkSize   int64             `json:"chunkSize"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Path        string            `json:"path"`
	Bucket      string            `json:"bucket"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
}

func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
