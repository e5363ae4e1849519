package firmware

import "strings"

// Info describes an application image. It is produced once per update
// attempt from the header window and never modified.
type Info struct {
	// Image header.
	SegmentCount    int    `json:"segmentCount"`
	SPIMode         uint8  `json:"spiMode"`
	SPISpeed        uint8  `json:"spiSpeed"`
	SPISize         uint8  `json:"spiSize"`
	EntryAddr       uint32 `json:"entryAddr"`
	ChipID          uint16 `json:"chipId"`
	MinChipRevision uint16 `json:"minChipRevision"`
	MaxChipRevision uint16 `json:"maxChipRevision"`
	HashAppended    bool   `json:"hashAppended"`

	// First segment header.
	SegmentLoadAddr uint32 `json:"segmentLoadAddr"`
	SegmentLength   uint32 `json:"segmentLength"`

	// Application descriptor.
	SecureVersion uint32 `json:"secureVersion"`
	Version       string `json:"version"`
	ProjectName   string `json:"projectName"`
	CompileTime   string `json:"compileTime"`
	CompileDate   string `json:"compileDate"`
	IDFVersion    string `json:"idfVersion"`
	ELFSHA256     string `json:"elfSha256"`
}

// Released returns the build date and time as recorded in the image.
func (i *Info) Released() string {
	return strings.TrimSpace(i.CompileDate + " " + i.CompileTime)
}

// KeysAndValues flattens the descriptive fields for structured logging.
func (i *Info) KeysAndValues() []any {
	return []any{
		"version", i.Version,
		"project", i.ProjectName,
		"released", i.Released(),
		"idf", i.IDFVersion,
		"segments", i.SegmentCount,
		"entry", i.EntryAddr,
		"chipID", i.ChipID,
	}
}
