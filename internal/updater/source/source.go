package source

import (
	"context"
	"fmt"
	"io"

	"github.com/autopeer-io/updater/internal/updater/core"
)

// Kind names a firmware source variant.
type Kind string

const (
	KindEmbedded Kind = "embedded"
	KindHTTP     Kind = "http"
	KindS3       Kind = "s3"
)

// UnknownSize is the Stream size of a source that does not announce its length.
const UnknownSize int64 = -1

// Source is where a firmware image comes from. Embedded images are
// available without network; streaming variants need connectivity first.
type Source interface {
	Kind() Kind
	RequiresNetwork() bool
	// Open performs any request/response handshake and returns the image
	// byte stream. Handshake failures are of kind TransportSetup.
	Open(ctx context.Context) (Stream, error)
}

// Stream is the common read contract of every variant. Read returning
// (0, io.EOF) signals end of stream.
type Stream interface {
	io.ReadCloser
	// Size is the announced image length, UnknownSize if not announced.
	Size() int64
}

// ReadExact fills buf completely. A stream that ends early yields a
// TransportRead error wrapping io.ErrUnexpectedEOF.
func ReadExact(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return core.Errorf(core.KindTransportRead, fmt.Errorf("read %d of %d header bytes: %w", n, len(buf), err))
}

// stream adapts an io.ReadCloser with a known or unknown length.
type stream struct {
	io.ReadCloser
	size int64
}

func (s *stream) Size() int64 { return s.size }
