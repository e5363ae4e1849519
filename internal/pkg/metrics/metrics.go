package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/autopeer-io/updater/internal/updater/core"
)

const namespace = "cpeer_updater"

var allPhases = []core.Phase{
	core.PhaseIdle, core.PhaseConnecting, core.PhaseDownloading, core.PhaseWriting,
	core.PhaseCompleting, core.PhaseDone, core.PhaseAborted, core.PhaseFailed,
}

// Recorder turns update progress into Prometheus metrics. It is a
// core.Reporter, so it observes the attempt like any other reporter.
type Recorder struct {
	registry *prometheus.Registry

	// Phase is 1 for the current phase of the attempt and 0 for the others.
	Phase *prometheus.GaugeVec

	// BytesWritten is the number of image bytes committed to the update slot.
	BytesWritten prometheus.Gauge

	// ImageBytes is the announced image size, -1 when unknown.
	ImageBytes prometheus.Gauge

	// Attempts counts finished attempts by outcome phase and error kind.
	Attempts *prometheus.CounterVec

	// PhaseDuration records how long each phase lasted.
	PhaseDuration *prometheus.HistogramVec

	mu        sync.Mutex
	current   core.Phase
	enteredAt time.Time
}

var _ core.Reporter = (*Recorder)(nil)

// NewRecorder creates a Recorder on its own registry, together with the
// process and Go runtime collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		Phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "Current phase of the update attempt (1 = current).",
			},
			[]string{"phase"},
		),
		BytesWritten: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bytes_written",
				Help:      "Image bytes written to the update slot.",
			},
		),
		ImageBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "image_bytes",
				Help:      "Announced image size in bytes, -1 when the source does not announce it.",
			},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Finished update attempts.",
			},
			[]string{"outcome", "kind"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each update phase.",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"phase"},
		),
		current: core.PhaseIdle,
	}

	r.registry.MustRegister(
		r.Phase, r.BytesWritten, r.ImageBytes, r.Attempts, r.PhaseDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.setPhase(core.PhaseIdle)
	return r
}

func (r *Recorder) Report(_ context.Context, p core.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BytesWritten.Set(float64(p.BytesWritten))
	r.ImageBytes.Set(float64(p.TotalBytes))

	if p.Phase == r.current {
		return
	}

	if !r.enteredAt.IsZero() {
		r.PhaseDuration.WithLabelValues(string(r.current)).Observe(p.Timestamp.Sub(r.enteredAt).Seconds())
	}
	r.current, r.enteredAt = p.Phase, p.Timestamp
	r.setPhase(p.Phase)

	if p.Phase.Terminal() {
		r.Attempts.WithLabelValues(string(p.Phase), string(p.ErrorKind)).Inc()
	}
}

func (r *Recorder) setPhase(current core.Phase) {
	for _, p := range allPhases {
		v := 0.0
		if p == current {
			v = 1
		}
		r.Phase.WithLabelValues(string(p)).Set(v)
	}
}

// Gatherer exposes the registry, e.g. for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Push sends the current values to a push-gateway, grouped by device.
// The device is about to restart, so this is the only chance to get the
// outcome of the attempt out.
func (r *Recorder) Push(ctx context.Context, gateway, job, deviceID string) error {
	return push.New(gateway, job).
		Gatherer(r.registry).
		Grouping("device", deviceID).
		PushContext(ctx)
}
