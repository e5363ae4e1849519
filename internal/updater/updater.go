// Package updater runs one over-the-air firmware update and restarts the
// device afterwards, whatever the outcome.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/updater/internal/pkg/metrics"
	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/ota"
	"github.com/autopeer-io/updater/internal/updater/report"
	"github.com/autopeer-io/updater/internal/updater/server"
	"github.com/autopeer-io/updater/internal/updater/source"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/mqtt"
	"github.com/autopeer-io/updater/pkg/options"
)

const (
	flushTimeout     = 10 * time.Second
	pushMaxRetries   = 3
	pushInitialDelay = 500 * time.Millisecond
)

// Updater is one update run with its telemetry side channels.
type Updater struct {
	deviceID     string
	orchestrator *ota.Orchestrator
	recorder     *metrics.Recorder
	tracker      *report.Tracker
	metrics      *options.MetricsOptions
	restarter    core.Restarter

	// setupErr is set when the update could not be assembled.
	setupErr error

	// Optional.
	mqtt   mqtt.Client
	server *server.Server
}

// Run performs the update. The device is restarted before Run returns,
// unless running simulated; the returned error describes why the update
// did not succeed.
func (u *Updater) Run(ctx context.Context) error {
	log.Info("Starting cpeer-updater", "deviceID", u.deviceID)

	if u.setupErr != nil {
		return u.failSetup(ctx)
	}

	if u.mqtt != nil {
		// Connects in the background once the network is up.
		if err := u.mqtt.Start(ctx); err != nil {
			log.Error(err, "MQTT reporting unavailable")
		}
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var g errgroup.Group
	if u.server != nil {
		g.Go(func() error { return u.server.Start(srvCtx) })
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify failed", "error", err)
	} else if ok {
		log.Debug("Notified service manager")
	}

	var res *ota.Result
	g.Go(func() error {
		defer stopServer()
		res = u.orchestrator.Run(ctx)
		return nil
	})

	serveErr := g.Wait()
	if serveErr != nil {
		log.Error(serveErr, "Status server failed")
	}

	var errs []error
	if res.Err != nil {
		errs = append(errs, fmt.Errorf("update ended in phase %s: %w", res.Phase, res.Err))
	}
	if res.RestartErr != nil {
		errs = append(errs, fmt.Errorf("restart failed: %w", res.RestartErr))
	}
	return errors.Join(errs...)
}

// failSetup reports the setup error as a failed update and restarts once.
func (u *Updater) failSetup(ctx context.Context) error {
	kind := core.KindOf(u.setupErr)
	log.Error(u.setupErr, "Update setup failed, restarting", "phase", core.PhaseFailed, "kind", kind)

	p := core.Progress{
		Phase:      core.PhaseFailed,
		TotalBytes: source.UnknownSize,
		ErrorKind:  kind,
		Error:      u.setupErr.Error(),
		Timestamp:  time.Now(),
	}
	report.Multi{u.tracker, u.recorder}.Report(ctx, p)

	errs := []error{fmt.Errorf("update ended in phase %s: %w", core.PhaseFailed, u.setupErr)}
	if err := u.restarter.Restart(); err != nil {
		log.Error(err, "Restart failed")
		errs = append(errs, fmt.Errorf("restart failed: %w", err))
	}
	return errors.Join(errs...)
}

// flush pushes the final metrics and closes the broker session so the
// last progress message is delivered before the device goes down.
func (u *Updater) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if u.metrics.PushGateway != "" {
		if err := u.pushMetrics(ctx); err != nil {
			log.Error(err, "Failed to push update metrics", "gateway", u.metrics.PushGateway)
		}
	}
	if u.mqtt != nil {
		u.mqtt.Disconnect(ctx)
	}
	_ = log.Sync()
}

func (u *Updater) pushMetrics(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pushInitialDelay

	op := func() error {
		return u.recorder.Push(ctx, u.metrics.PushGateway, u.metrics.Job, u.deviceID)
	}
	notify := func(err error, d time.Duration) {
		log.Warn("Metrics push failed, retrying", "error", err, "after", d)
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, pushMaxRetries), ctx), notify)
}
