package connectivity

import (
	"errors"
	"net/netip"
)

// Config is the client configuration applied to the radio.
type Config struct {
	SSID     string `json:"ssid"`
	Password string `json:"-"`
}

// Validate checks the client variant constraints.
func (c Config) Validate() error {
	var errs []error
	if c.SSID == "" {
		errs = append(errs, errors.New("ssid must not be empty"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password must not be empty"))
	}
	return errors.Join(errs...)
}

// Radio is the driver of a station-mode network interface. The manager
// assumes it is the only user of the radio for the process lifetime.
type Radio interface {
	SetConfiguration(cfg Config) error
	Start() error
	IsStarted() (bool, error)
	Connect() error
	IsConnected() (bool, error)
	// Address is the address currently assigned to the interface, the zero
	// Addr when none is assigned.
	Address() (netip.Addr, error)
	// Subscribe registers for driver events. The channel of the subscription
	// is signalled whenever a readiness predicate may have changed.
	Subscribe() (Subscription, error)
}

// Subscription delivers driver event notifications until closed.
type Subscription interface {
	Events() <-chan struct{}
	Close()
}
