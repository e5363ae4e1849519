//go:build linux

package hal

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
	"github.com/autopeer-io/updater/pkg/log"
)

// stationRadio drives a Linux wireless interface in station mode through
// wpa_supplicant. Addressing is left to the system DHCP client.
type stationRadio struct {
	iface    string
	confPath string

	mu sync.Mutex
}

func newStationRadio(iface string) (connectivity.Radio, error) {
	if _, err := net.InterfaceByName(iface); err != nil {
		return nil, fmt.Errorf("station interface %q: %w", iface, err)
	}
	return &stationRadio{
		iface:    iface,
		confPath: filepath.Join(os.TempDir(), "cpeer-updater-wpa.conf"),
	}, nil
}

func (r *stationRadio) SetConfiguration(cfg connectivity.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	conf := fmt.Sprintf("ctrl_interface=/run/wpa_supplicant\nnetwork={\n\tssid=%s\n\tpsk=%s\n}\n",
		strconv.Quote(cfg.SSID), strconv.Quote(cfg.Password))

	r.mu.Lock()
	defer r.mu.Unlock()
	return os.WriteFile(r.confPath, []byte(conf), 0o600)
}

func (r *stationRadio) Start() error {
	return r.run("ip", "link", "set", "dev", r.iface, "up")
}

func (r *stationRadio) Connect() error {
	return r.run("wpa_supplicant", "-B", "-i", r.iface, "-c", r.confPath)
}

func (r *stationRadio) IsStarted() (bool, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return false, err
	}
	return ifi.Flags&net.FlagUp != 0, nil
}

// IsConnected reports operational state, which a wireless driver only
// raises once associated.
func (r *stationRadio) IsConnected() (bool, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return false, err
	}
	return ifi.Flags&net.FlagRunning != 0, nil
}

func (r *stationRadio) Address() (netip.Addr, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return netip.Addr{}, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() && !addr.IsLinkLocalUnicast() {
			return addr, nil
		}
	}
	return netip.Addr{}, nil
}

// Subscribe returns a subscription without events; readiness is polled.
func (r *stationRadio) Subscribe() (connectivity.Subscription, error) {
	return pollOnly{}, nil
}

func (r *stationRadio) run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	log.Debug("Radio command done", "cmd", name, "args", args)
	return nil
}

type pollOnly struct{}

func (pollOnly) Events() <-chan struct{} { return nil }
func (pollOnly) Close()                  {}
