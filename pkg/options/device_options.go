package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*DeviceOptions)(nil)

// DeviceOptions identifies the device and selects real or simulated hardware.
type DeviceOptions struct {
	// ID names the device in progress reports. Discovered when empty.
	ID string `json:"id" mapstructure:"id"`

	// Simulate replaces the radio with a simulated one and turns the restart
	// into a log line, for running the pipeline on a workstation.
	Simulate bool `json:"simulate" mapstructure:"simulate"`
}

func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{}
}

func (o *DeviceOptions) Validate() []error {
	return nil
}

func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ID, "device.id", o.ID, "Device identifier (defaults to CPEER_DEVICE_ID, /etc/autopeer/device-id, then the hostname).")
	fs.BoolVar(&o.Simulate, "device.simulate", o.Simulate, "Use a simulated radio and do not really restart.")
}
