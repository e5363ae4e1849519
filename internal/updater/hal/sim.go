package hal

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
)

// SimRadio is a radio that starts and associates after fixed delays.
type SimRadio struct {
	clock        clock.WithDelayedExecution
	startDelay   time.Duration
	connectDelay time.Duration
	addr         netip.Addr

	mu         sync.Mutex
	configured bool
	started    bool
	connected  bool
	subs       map[*simSub]struct{}
}

var _ connectivity.Radio = (*SimRadio)(nil)

// SimOption configures a SimRadio.
type SimOption func(*SimRadio)

// WithSimClock replaces the clock driving the delays.
func WithSimClock(c clock.WithDelayedExecution) SimOption {
	return func(r *SimRadio) { r.clock = c }
}

// WithSimDelays sets how long start and association take.
func WithSimDelays(start, connect time.Duration) SimOption {
	return func(r *SimRadio) { r.startDelay, r.connectDelay = start, connect }
}

// WithSimAddress sets the address handed out on association. The zero
// Addr keeps the radio from ever looking connected.
func WithSimAddress(a netip.Addr) SimOption {
	return func(r *SimRadio) { r.addr = a }
}

func NewSimRadio(opts ...SimOption) *SimRadio {
	r := &SimRadio{
		clock:        clock.RealClock{},
		startDelay:   300 * time.Millisecond,
		connectDelay: 1500 * time.Millisecond,
		addr:         netip.MustParseAddr("192.168.4.2"),
		subs:         make(map[*simSub]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SimRadio) SetConfiguration(cfg connectivity.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = true
	return nil
}

func (r *SimRadio) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return errors.New("radio not configured")
	}
	r.clock.AfterFunc(r.startDelay, func() { r.set(func() { r.started = true }) })
	return nil
}

func (r *SimRadio) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return errors.New("radio not started")
	}
	r.clock.AfterFunc(r.connectDelay, func() { r.set(func() { r.connected = true }) })
	return nil
}

func (r *SimRadio) IsStarted() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, nil
}

func (r *SimRadio) IsConnected() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected, nil
}

func (r *SimRadio) Address() (netip.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return netip.Addr{}, nil
	}
	return r.addr, nil
}

func (r *SimRadio) Subscribe() (connectivity.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &simSub{radio: r, ch: make(chan struct{}, 1)}
	r.subs[s] = struct{}{}
	return s, nil
}

// set applies fn and wakes every subscriber.
func (r *SimRadio) set(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	for s := range r.subs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

type simSub struct {
	radio *SimRadio
	ch    chan struct{}
}

func (s *simSub) Events() <-chan struct{} { return s.ch }

func (s *simSub) Close() {
	s.radio.mu.Lock()
	defer s.radio.mu.Unlock()
	delete(s.radio.subs, s)
}
