// Package transfer moves file bytes into a resumable session. Browsers do
// this themselves, the server and CLI use these clients.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"foldly/upload-api/internal/storage"
)

// ProgressFunc receives the number of bytes the backend has acknowledged.
type ProgressFunc func(sent int64)

type Client interface {
	Transfer(ctx context.Context, s *storage.Session, body io.ReadSeeker, onProgress ProgressFunc) error
}

// ForSession picks the client that speaks the session's protocol.
func ForSession(s *storage.Session, hc *http.Client) (Client, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}

	switch s.Protocol {
	case storage.ProtocolTUS:
		return &TUS{HTTPClient: hc}, nil
	case storage.ProtocolResumable:
		return &Resumable{HTTPClient: hc}, nil
	default:
		return nil, fmt.Errorf("unsupported session protocol %q", s.Protocol)
	}
}

// ctxTransport binds every request made through it to ctx so a library
// without context support still stops when the upload is cancelled.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(r.WithContext(t.ctx))
}

func withContext(ctx context.Context, hc *http.Client) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	clone := *hc
	clone.Transport = &ctxTransport{ctx: ctx, base: base}
	return &clone
}

func report(fn ProgressFunc, n int64) {
	if fn != nil {
		fn(n)
	}
}
