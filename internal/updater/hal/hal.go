// Package hal provides the device handles the updater drives: the radio,
// the restart, and the device identity.
package hal

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/options"
)

// ErrRadioTaken is returned when the radio handle was already acquired.
var ErrRadioTaken = errors.New("radio handle already taken")

var radioTaken atomic.Bool

// TakeRadio acquires the process-wide radio handle. It succeeds once per
// process; every later call returns ErrRadioTaken.
func TakeRadio(opts *options.WifiOptions, simulate bool) (connectivity.Radio, error) {
	if !radioTaken.CompareAndSwap(false, true) {
		return nil, ErrRadioTaken
	}
	if simulate {
		log.Info("Using simulated radio")
		return NewSimRadio(), nil
	}
	r, err := newStationRadio(opts.Interface)
	if err != nil {
		radioTaken.Store(false)
		return nil, err
	}
	return r, nil
}

// NewRestarter returns the device restart. In simulation it only logs.
func NewRestarter(simulate bool) core.Restarter {
	if simulate {
		return LogRestarter{}
	}
	return newSystemRestarter()
}

// LogRestarter stands in for a restart on a workstation.
type LogRestarter struct{}

func (LogRestarter) Restart() error {
	log.Warn(">>> RESTART REQUESTED (simulated) <<<")
	return nil
}

const deviceIDFile = "/etc/autopeer/device-id"

// DiscoverDeviceID looks up the device identity: the CPEER_DEVICE_ID
// environment variable, then the provisioning file, then the hostname.
func DiscoverDeviceID() string {
	return discoverDeviceID(os.Getenv, deviceIDFile, os.Hostname)
}

func discoverDeviceID(getenv func(string) string, file string, hostname func() (string, error)) string {
	if id := getenv("CPEER_DEVICE_ID"); id != "" {
		log.Debug("DeviceID detected from env", "id", id)
		return id
	}

	if content, err := os.ReadFile(file); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Debug("DeviceID detected from file", "id", id)
			return id
		}
	}

	if h, err := hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}
