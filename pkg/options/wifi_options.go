package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*WifiOptions)(nil)

// WifiOptions configures network bring-up before a streamed download.
type WifiOptions struct {
	SSID      string `json:"ssid" mapstructure:"ssid"`
	Password  string `json:"password" mapstructure:"password"`
	Interface string `json:"interface" mapstructure:"interface"`

	StartTimeout   time.Duration `json:"start-timeout" mapstructure:"start-timeout"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	PollInterval   time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
}

func NewWifiOptions() *WifiOptions {
	return &WifiOptions{
		Interface:      "wlan0",
		StartTimeout:   20 * time.Second,
		ConnectTimeout: 20 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// Validate only checks the timing knobs. Credentials are checked when the
// radio is configured, and only if the firmware source needs the network.
func (o *WifiOptions) Validate() []error {
	errs := []error{}

	if o.StartTimeout <= 0 || o.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("--wifi.start-timeout and --wifi.connect-timeout must be positive"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("--wifi.poll-interval must be positive"))
	}

	return errs
}

func (o *WifiOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.SSID, "wifi.ssid", o.SSID, "Network identifier to join (env ESP_SSID).")
	fs.StringVar(&o.Password, "wifi.password", o.Password, "Network credential (env ESP_PASSWD).")
	fs.StringVar(&o.Interface, "wifi.interface", o.Interface, "Station interface driven by the updater.")
	fs.DurationVar(&o.StartTimeout, "wifi.start-timeout", o.StartTimeout, "How long to wait for the radio to start.")
	fs.DurationVar(&o.ConnectTimeout, "wifi.connect-timeout", o.ConnectTimeout, "How long to wait for association and a routable address.")
	fs.DurationVar(&o.PollInterval, "wifi.poll-interval", o.PollInterval, "Readiness polling cadence between driver events.")
}
