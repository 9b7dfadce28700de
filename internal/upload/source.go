package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source gives the manager repeatable access to a file's bytes so every
// retry can start from the beginning.
type Source interface {
	Open() (io.ReadSeekCloser, error)
}

// Releaser is implemented by sources that own resources, like temporary
// files, which must be freed once the upload is done with them.
type Releaser interface {
	Release() error
}

type PathSource string

func (p PathSource) Open() (io.ReadSeekCloser, error) {
	return os.Open(string(p))
}

// TempFileSource is a PathSource that removes the file on release.
type TempFileSource string

func (p TempFileSource) Open() (io.ReadSeekCloser, error) {
	return os.Open(string(p))
}

func (p TempFileSource) Release() error {
	return os.Remove(string(p))
}

type BytesSource []byte

func (b BytesSource) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(b)}, nil
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }

// SpoolToTemp copies r into a temporary file owned by the returned source.
func SpoolToTemp(r io.Reader) (TempFileSource, int64, error) {
	f, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file, %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("failed to copy data to temporary file, %w", err)
	}

	return TempFileSource(f.Name()), n, nil
}

const sniffLen = 512

func readHead(s Source) []byte {
	if s == nil {
		return nil
	}

	r, err := s.Open()
	if err != nil {
		return nil
	}
	defer r.Close()

	buf := make([]byte, sniffLen)
	n, _ := io.ReadFull(r, buf)
	return buf[:n]
}
