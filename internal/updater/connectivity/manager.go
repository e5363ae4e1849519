package connectivity

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/pkg/log"
)

const (
	// DefaultTimeout bounds each of the start and connect waits.
	DefaultTimeout = 20 * time.Second

	// DefaultPollInterval is how often readiness is re-checked between events.
	DefaultPollInterval = 100 * time.Millisecond
)

// State is the bring-up progress of the radio. It only moves forward.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateStarting
	StateStarted
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateConfigured:
		return "Configured"
	case StateStarting:
		return "Starting"
	case StateStarted:
		return "Started"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle proves link-level and network-level readiness.
type Handle struct {
	SSID    string
	Address netip.Addr
	Elapsed time.Duration
}

// Manager drives a Radio from unconfigured to having a routable address.
// Failures are terminal for the attempt; retrying is up to the caller.
type Manager struct {
	radio Radio
	clock clock.Clock

	startTimeout   time.Duration
	connectTimeout time.Duration
	pollInterval   time.Duration

	mu    sync.Mutex
	state State
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for waits.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTimeouts sets the start and connect wait bounds.
func WithTimeouts(start, connect time.Duration) Option {
	return func(m *Manager) {
		m.startTimeout = start
		m.connectTimeout = connect
	}
}

// WithPollInterval sets the readiness polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// NewManager returns a Manager owning radio.
func NewManager(radio Radio, opts ...Option) *Manager {
	m := &Manager{
		radio:          radio,
		clock:          clock.RealClock{},
		startTimeout:   DefaultTimeout,
		connectTimeout: DefaultTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current bring-up state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) advance(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s > m.state {
		m.state = s
	}
}

// Establish configures, starts and connects the radio.
func (m *Manager) Establish(ctx context.Context, cfg Config) (*Handle, error) {
	logger := log.WithName("connectivity").WithValues("ssid", cfg.SSID)
	begin := m.clock.Now()

	if err := cfg.Validate(); err != nil {
		return nil, core.Errorf(core.KindConnectivityConfig, err)
	}
	if err := m.radio.SetConfiguration(cfg); err != nil {
		return nil, core.Errorf(core.KindConnectivityConfig, err)
	}
	m.advance(StateConfigured)

	if err := m.radio.Start(); err != nil {
		return nil, core.Errorf(core.KindConnectivityStart, err)
	}
	m.advance(StateStarting)

	started, err := m.await(ctx, m.startTimeout, m.isStarted)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, core.Errorf(core.KindConnectivityStartTimeout, fmt.Errorf("radio did not start within %s", m.startTimeout))
	}
	m.advance(StateStarted)
	logger.Debug("Radio started")

	if err := m.radio.Connect(); err != nil {
		return nil, core.Errorf(core.KindConnectivityConnect, err)
	}
	m.advance(StateConnecting)

	var addr netip.Addr
	connected, err := m.await(ctx, m.connectTimeout, func() bool {
		ok, a := m.isConnected()
		addr = a
		return ok
	})
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, core.Errorf(core.KindConnectivityConnectTimeout, fmt.Errorf("no routable address within %s", m.connectTimeout))
	}
	m.advance(StateConnected)

	h := &Handle{SSID: cfg.SSID, Address: addr, Elapsed: m.clock.Since(begin)}
	logger.Info("Network connected", "address", addr.String(), "elapsed", h.Elapsed)
	return h, nil
}

// await subscribes to driver events and waits for ready.
func (m *Manager) await(ctx context.Context, timeout time.Duration, ready func() bool) (bool, error) {
	sub, err := m.radio.Subscribe()
	if err != nil {
		return false, core.Errorf(core.KindConnectivityWait, err)
	}
	defer sub.Close()

	return waitFor(ctx, m.clock, sub.Events(), timeout, m.pollInterval, ready)
}

// Driver errors while polling count as "not yet".
func (m *Manager) isStarted() bool {
	ok, err := m.radio.IsStarted()
	return err == nil && ok
}

func (m *Manager) isConnected() (bool, netip.Addr) {
	if ok, err := m.radio.IsConnected(); err != nil || !ok {
		return false, netip.Addr{}
	}
	addr, err := m.radio.Address()
	if err != nil || !addr.IsValid() || addr.IsUnspecified() {
		return false, netip.Addr{}
	}
	return true, addr
}
