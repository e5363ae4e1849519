package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/firmware"
	"github.com/autopeer-io/updater/internal/updater/partition"
	"github.com/autopeer-io/updater/internal/updater/source"
	"github.com/autopeer-io/updater/pkg/log"
)

const (
	// DefaultSizeBudget is half of the 3 MiB application area of a 4 MiB flash.
	DefaultSizeBudget int64 = 1_572_864

	// DefaultChunkSize is the body read and write granularity.
	DefaultChunkSize = 1024

	// DefaultProgressInterval is how many written bytes separate two
	// progress reports while in the writing phase.
	DefaultProgressInterval int64 = 64 * 1024

	// maxEmptyReads is how many consecutive reads may return no data
	// and no error before the stream counts as stalled.
	maxEmptyReads = 100
)

// Connector brings the network up before a streamed download.
type Connector interface {
	Establish(ctx context.Context, cfg connectivity.Config) (*connectivity.Handle, error)
}

var _ Connector = (*connectivity.Manager)(nil)

// Config holds the collaborators and limits of an Orchestrator.
type Config struct {
	Source    source.Source
	Store     partition.Store
	Restarter core.Restarter

	// Connector and Network are required when Source needs the network.
	Connector Connector
	Network   connectivity.Config

	// Reporter receives progress. Nil discards it.
	Reporter core.Reporter

	SizeBudget       int64
	ChunkSize        int
	HeaderWindow     int
	ProgressInterval int64

	// Clock stamps progress and measures the attempt. Nil means the real clock.
	Clock clock.PassiveClock
}

func (c *Config) complete() {
	if c.Reporter == nil {
		c.Reporter = core.NopReporter
	}
	if c.SizeBudget <= 0 {
		c.SizeBudget = DefaultSizeBudget
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.HeaderWindow <= 0 {
		c.HeaderWindow = firmware.HeaderWindowSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

// Result is the outcome of one attempt.
type Result struct {
	Phase        core.Phase
	BytesWritten int64
	Info         *firmware.Info
	Slot         partition.Slot
	Elapsed      time.Duration
	Err          error

	// RestartErr is set when the restart returned with an error. A restart
	// that works does not return at all on real hardware.
	RestartErr error
}

// Orchestrator sequences one update attempt and then restarts the device.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("firmware source is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("partition store is required"))
	}
	if cfg.Restarter == nil {
		errs = append(errs, errors.New("restarter is required"))
	}
	if cfg.Source != nil && cfg.Source.RequiresNetwork() && cfg.Connector == nil {
		errs = append(errs, fmt.Errorf("%s source requires a connector", cfg.Source.Kind()))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg.complete()
	return &Orchestrator{cfg: cfg}, nil
}

// Run performs the attempt and then restarts the device exactly once,
// whatever the outcome. Nothing of the pipeline runs after the restart.
func (o *Orchestrator) Run(ctx context.Context) (res *Result) {
	logger := log.FromContext(ctx).WithName("ota")
	ctx = log.IntoContext(ctx, logger)

	defer func() {
		if res == nil {
			res = &Result{Phase: core.PhaseFailed, Err: errors.New("update attempt did not finish")}
		}
		res.RestartErr = o.restart(logger, res)
	}()

	return o.Attempt(ctx)
}

// Attempt performs one update attempt without restarting. Every attempt
// is independent: nothing of an earlier partial write is reused.
func (o *Orchestrator) Attempt(ctx context.Context) *Result {
	a := &attempt{
		cfg:   &o.cfg,
		log:   log.FromContext(ctx),
		start: o.cfg.Clock.Now(),
		size:  source.UnknownSize,
	}
	a.m = newMachine(func() *Session { return a.session }, a.onEnter)

	err := a.finish(ctx, a.run(ctx))

	res := &Result{
		Phase:   a.m.Phase(),
		Info:    a.info,
		Elapsed: o.cfg.Clock.Since(a.start),
		Err:     err,
	}
	if a.session != nil {
		res.BytesWritten = a.session.Written()
		res.Slot = a.session.Slot()
	}
	return res
}

func (o *Orchestrator) restart(logger log.Logger, res *Result) error {
	if res.Err != nil {
		logger.Error(res.Err, "Update failed, restarting", "phase", res.Phase, "kind", core.KindOf(res.Err))
	} else {
		logger.Info("Update applied, restarting", "slot", res.Slot, "bytes", res.BytesWritten, "elapsed", res.Elapsed)
	}
	_ = logger.Sync()

	if err := o.cfg.Restarter.Restart(); err != nil {
		logger.Error(err, "Restart failed")
		return err
	}
	return nil
}

// attempt is the state of one pass through the pipeline.
type attempt struct {
	cfg *Config
	log log.Logger
	m   *machine

	session *Session
	info    *firmware.Info
	size    int64
	start   time.Time
	err     error

	reportedAt int64
}

func (a *attempt) run(ctx context.Context) error {
	if a.cfg.Source.RequiresNetwork() {
		a.fire(ctx, EventConnect)

		h, err := a.cfg.Connector.Establish(ctx, a.cfg.Network)
		if err != nil {
			return err
		}
		a.log.Info("Network is up", "ssid", h.SSID, "address", h.Address, "elapsed", h.Elapsed)
	}

	a.fire(ctx, EventDownload)

	stream, err := a.cfg.Source.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()
	body := &stallGuard{r: stream}

	a.size = stream.Size()
	if a.cfg.Source.Kind() == source.KindEmbedded && a.size > a.cfg.SizeBudget {
		return core.TooLarge(a.size, a.cfg.SizeBudget)
	}

	window := make([]byte, a.cfg.HeaderWindow)
	if err := source.ReadExact(body, window); err != nil {
		return err
	}

	a.info, err = firmware.Parse(window)
	if err != nil {
		return err
	}
	a.log.Info("Firmware info", a.info.KeysAndValues()...)

	if err := a.logSlots(); err != nil {
		return err
	}

	a.session, err = BeginSession(a.cfg.Store, a.cfg.SizeBudget)
	if err != nil {
		return err
	}
	a.log.Info("Writing firmware", "slot", a.session.Slot())

	if err := a.session.Write(window); err != nil {
		return err
	}
	a.fire(ctx, EventWrite)

	if err := a.pump(ctx, body); err != nil {
		return err
	}
	a.log.Info("Firmware received", "bytes", a.session.Written())

	a.fire(ctx, EventComplete)
	return a.session.Complete()
}

// pump streams the body in fixed chunks. The session rejects the first
// chunk that would cross the budget before anything of it is written.
func (a *attempt) pump(ctx context.Context, r io.Reader) error {
	buf := make([]byte, a.cfg.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := a.session.Write(buf[:n]); werr != nil {
				return werr
			}
			a.progress(ctx)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return core.Errorf(core.KindTransportRead, fmt.Errorf("read body at byte %d: %w", a.session.Written(), err))
		}
	}
}

// stallGuard fails a reader that keeps returning neither data nor an error.
type stallGuard struct {
	r     io.Reader
	empty int
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	if n > 0 || err != nil || len(p) == 0 {
		g.empty = 0
		return n, err
	}
	g.empty++
	if g.empty >= maxEmptyReads {
		return 0, io.ErrNoProgress
	}
	return 0, nil
}

func (a *attempt) logSlots() error {
	update, err := a.cfg.Store.UpdateSlot()
	if err != nil {
		return err
	}
	boot, err := a.cfg.Store.BootSlot()
	if err != nil {
		return err
	}
	running, err := a.cfg.Store.RunningSlot()
	if err != nil {
		return err
	}
	a.log.Info("Partition layout", "update", update, "boot", boot, "running", running)
	return nil
}

// finish moves the machine to its terminal phase. An open session is
// aborted; a failed abort is joined to the original error.
func (a *attempt) finish(ctx context.Context, err error) error {
	if err == nil {
		a.fire(ctx, EventFinish)
		return nil
	}

	if a.session != nil && a.session.Open() {
		err = a.session.abortWith(err)
		a.err = err
		a.fire(ctx, EventAbort)
		return err
	}

	a.err = err
	a.fire(ctx, EventFail)
	return err
}

func (a *attempt) fire(ctx context.Context, event string) {
	if err := a.m.Event(ctx, event); err != nil {
		a.log.Error(err, "Phase transition rejected", "event", event, "phase", a.m.Phase())
	}
}

func (a *attempt) onEnter(ctx context.Context, p core.Phase) {
	a.log.Debug("Entering phase", "phase", p)
	a.report(ctx, p)
}

func (a *attempt) progress(ctx context.Context) {
	if a.session.Written()-a.reportedAt < a.cfg.ProgressInterval {
		return
	}
	a.report(ctx, a.m.Phase())
}

func (a *attempt) report(ctx context.Context, p core.Phase) {
	pr := core.Progress{
		Phase:      p,
		TotalBytes: a.size,
		Timestamp:  a.cfg.Clock.Now(),
	}
	if a.info != nil {
		pr.Version = a.info.Version
	}
	if a.session != nil {
		pr.BytesWritten = a.session.Written()
		pr.TargetSlot = a.session.Slot().Label
		a.reportedAt = pr.BytesWritten
	}
	if p.Terminal() && a.err != nil {
		pr.ErrorKind = core.KindOf(a.err)
		pr.Error = a.err.Error()
	}
	a.cfg.Reporter.Report(ctx, pr)
}
