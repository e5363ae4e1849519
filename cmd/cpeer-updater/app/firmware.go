//go:build !embedded

package app

// embeddedFirmware is empty unless built with -tags embedded.
var embeddedFirmware []byte
