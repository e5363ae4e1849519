package firmware

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/autopeer-io/updater/internal/updater/core"
)

// Constants describing the application image layout.
const (
	// ImageHeaderSize is the size of the image header at offset 0.
	ImageHeaderSize = 24

	// SegmentHeaderSize is the size of the header preceding each segment.
	SegmentHeaderSize = 8

	// AppDescSize is the size of the application descriptor that opens the first segment.
	AppDescSize = 256

	// HeaderWindowSize is the image prefix needed to describe an image without reading it whole.
	HeaderWindowSize = ImageHeaderSize + SegmentHeaderSize + AppDescSize

	// ImageMagic is the first byte of every application image.
	ImageMagic = 0xE9

	// AppDescMagic is the magic word of the application descriptor.
	AppDescMagic = 0xABCD5432

	// MaxSegments is the largest segment count the bootloader accepts.
	MaxSegments = 16
)

// application descriptor field offsets, relative to the descriptor start.
const (
	descMagicOff      = 0
	descSecureVerOff  = 4
	descVersionOff    = 16
	descProjectOff    = 48
	descTimeOff       = 80
	descDateOff       = 96
	descIDFVerOff     = 112
	descELFSHA256Off  = 144
	descVersionLen    = 32
	descProjectLen    = 32
	descTimeLen       = 16
	descDateLen       = 16
	descIDFVerLen     = 32
	descELFSHA256Len  = 32
)

var (
	// ErrShortWindow is returned when fewer than HeaderWindowSize bytes are given.
	ErrShortWindow = errors.New("header window too short")

	// ErrImageMagic is returned when the image header does not start with ImageMagic.
	ErrImageMagic = errors.New("bad image magic")

	// ErrAppDescMagic is returned when the application descriptor magic word is wrong.
	ErrAppDescMagic = errors.New("bad application descriptor magic")

	// ErrSegmentCount is returned for a segment count of zero or above MaxSegments.
	ErrSegmentCount = errors.New("invalid segment count")
)

// Parse decodes the header window of an application image. It reads only
// the first HeaderWindowSize bytes of window and has no side effects.
func Parse(window []byte) (*Info, error) {
	if len(window) < HeaderWindowSize {
		return nil, core.Errorf(core.KindHeaderParse,
			fmt.Errorf("%w: got %d bytes, need %d", ErrShortWindow, len(window), HeaderWindowSize))
	}

	img := window[:ImageHeaderSize]
	if img[0] != ImageMagic {
		return nil, core.Errorf(core.KindHeaderParse, fmt.Errorf("%w: 0x%02X", ErrImageMagic, img[0]))
	}

	segments := int(img[1])
	if segments == 0 || segments > MaxSegments {
		return nil, core.Errorf(core.KindHeaderParse, fmt.Errorf("%w: %d", ErrSegmentCount, segments))
	}

	seg := window[ImageHeaderSize : ImageHeaderSize+SegmentHeaderSize]
	desc := window[ImageHeaderSize+SegmentHeaderSize : HeaderWindowSize]

	if magic := binary.LittleEndian.Uint32(desc[descMagicOff:]); magic != AppDescMagic {
		return nil, core.Errorf(core.KindHeaderParse, fmt.Errorf("%w: 0x%08X", ErrAppDescMagic, magic))
	}

	info := &Info{
		SegmentCount:    segments,
		SPIMode:         img[2],
		SPISpeed:        img[3] & 0x0F,
		SPISize:         img[3] >> 4,
		EntryAddr:       binary.LittleEndian.Uint32(img[4:8]),
		ChipID:          binary.LittleEndian.Uint16(img[12:14]),
		MinChipRevision: binary.LittleEndian.Uint16(img[15:17]),
		MaxChipRevision: binary.LittleEndian.Uint16(img[17:19]),
		HashAppended:    img[23] == 1,

		SegmentLoadAddr: binary.LittleEndian.Uint32(seg[0:4]),
		SegmentLength:   binary.LittleEndian.Uint32(seg[4:8]),

		SecureVersion: binary.LittleEndian.Uint32(desc[descSecureVerOff:]),
		Version:       cstring(desc[descVersionOff : descVersionOff+descVersionLen]),
		ProjectName:   cstring(desc[descProjectOff : descProjectOff+descProjectLen]),
		CompileTime:   cstring(desc[descTimeOff : descTimeOff+descTimeLen]),
		CompileDate:   cstring(desc[descDateOff : descDateOff+descDateLen]),
		IDFVersion:    cstring(desc[descIDFVerOff : descIDFVerOff+descIDFVerLen]),
		ELFSHA256:     hex.EncodeToString(desc[descELFSHA256Off : descELFSHA256Off+descELFSHA256Len]),
	}

	return info, nil
}

// cstring returns the bytes of b up to the first NUL.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
