package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Embedded serves an image that is already in memory, typically compiled
// into the binary.
type Embedded struct {
	blob []byte
}

var _ Source = (*Embedded)(nil)

// NewEmbedded returns a source over blob.
func NewEmbedded(blob []byte) *Embedded {
	return &Embedded{blob: blob}
}

// LoadFile reads an image from disk into an embedded source.
func LoadFile(path string) (*Embedded, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load firmware image: %w", err)
	}
	return NewEmbedded(blob), nil
}

func (e *Embedded) Kind() Kind            { return KindEmbedded }
func (e *Embedded) RequiresNetwork() bool { return false }

func (e *Embedded) Open(context.Context) (Stream, error) {
	return &stream{
		ReadCloser: io.NopCloser(bytes.NewReader(e.blob)),
		size:       int64(len(e.blob)),
	}, nil
}
