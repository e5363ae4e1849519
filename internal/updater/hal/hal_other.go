//go:build !linux

package hal

import (
	"errors"
	"runtime"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
)

var errUnsupported = errors.New("no device support on " + runtime.GOOS + ", use --device.simulate")

func newStationRadio(string) (connectivity.Radio, error) {
	return nil, errUnsupported
}

type systemRestarter struct{}

func newSystemRestarter() systemRestarter { return systemRestarter{} }

func (systemRestarter) Restart() error { return errUnsupported }
