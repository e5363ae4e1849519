// Package firmwaretest builds application images for tests.
package firmwaretest

import (
	"encoding/binary"

	"github.com/autopeer-io/updater/internal/updater/firmware"
)

// Image describes the header fields of a synthetic image.
type Image struct {
	Version     string
	ProjectName string
	CompileTime string
	CompileDate string
	IDFVersion  string
	Segments    uint8
	EntryAddr   uint32
	ChipID      uint16
}

// Header returns a valid header window for img.
func Header(img Image) []byte {
	if img.Segments == 0 {
		img.Segments = 4
	}

	b := make([]byte, firmware.HeaderWindowSize)
	b[0] = firmware.ImageMagic
	b[1] = img.Segments
	b[2] = 0x02
	b[3] = 0x20
	binary.LittleEndian.PutUint32(b[4:], img.EntryAddr)
	binary.LittleEndian.PutUint16(b[12:], img.ChipID)

	seg := b[firmware.ImageHeaderSize:]
	binary.LittleEndian.PutUint32(seg[0:], 0x3F400020)
	binary.LittleEndian.PutUint32(seg[4:], firmware.AppDescSize)

	desc := b[firmware.ImageHeaderSize+firmware.SegmentHeaderSize:]
	binary.LittleEndian.PutUint32(desc[0:], firmware.AppDescMagic)
	copy(desc[16:48], img.Version)
	copy(desc[48:80], img.ProjectName)
	copy(desc[80:96], img.CompileTime)
	copy(desc[96:112], img.CompileDate)
	copy(desc[112:144], img.IDFVersion)
	for i := range 32 {
		desc[144+i] = byte(i)
	}

	return b
}

// Blob returns an image of exactly size bytes starting with a valid header.
// The body is a deterministic byte pattern.
func Blob(img Image, size int) []byte {
	b := make([]byte, size)
	n := copy(b, Header(img))
	for i := n; i < size; i++ {
		b[i] = byte(i * 7)
	}
	return b
}
