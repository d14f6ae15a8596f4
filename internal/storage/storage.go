// Package storage holds recorded and synthesized audio clips.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists for a key.
var ErrNotFound = errors.New("storage: object not found")

// Key prefixes for the two kinds of clips.
const (
	PrefixRecordings = "recordings/"
	PrefixSynthesis  = "tts/"
)

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Storage defines the file operations the audio pipeline needs.
type Storage interface {
	// Write stores content from the reader with the given key.
	// The size parameter is the expected content size (-1 if unknown).
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key. The caller closes the reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// List returns all files whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// URL returns an address the client can play the clip from.
	URL(ctx context.Context, key string) (string, error)
}

// ReadAll reads the whole object stored at key.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
