//go:build embedded

package app

import _ "embed"

// The checked-in firmware.bin is a placeholder that the embedded source
// rejects as too short. Overwrite it with the application image before
// building.
//
//go:embed firmware.bin
var embeddedFirmware []byte
