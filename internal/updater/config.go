package updater

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autopeer-io/updater/internal/pkg/metrics"
	"github.com/autopeer-io/updater/internal/updater/connectivity"
	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/firmware"
	"github.com/autopeer-io/updater/internal/updater/hal"
	"github.com/autopeer-io/updater/internal/updater/ota"
	"github.com/autopeer-io/updater/internal/updater/partition"
	"github.com/autopeer-io/updater/internal/updater/report"
	"github.com/autopeer-io/updater/internal/updater/server"
	"github.com/autopeer-io/updater/internal/updater/source"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/mqtt"
	"github.com/autopeer-io/updater/pkg/mqtt/topic"
	"github.com/autopeer-io/updater/pkg/options"
)

// Config is the complete, validated configuration of one updater run.
type Config struct {
	Wifi      *options.WifiOptions
	Firmware  *options.FirmwareOptions
	S3        *options.S3Options
	Partition *options.PartitionOptions
	Mqtt      *options.MqttOptions
	Http      *options.HttpOptions
	Metrics   *options.MetricsOptions
	Device    *options.DeviceOptions

	// EmbeddedImage backs the "embedded" firmware source.
	EmbeddedImage []byte

	// Restarter overrides the device restart. Nil selects the hardware
	// restart, or a logging one when simulating.
	Restarter core.Restarter
}

// NewUpdater assembles the device handles, the firmware source and the
// reporters around an orchestrator. A setup failure is kept on the
// returned Updater and surfaces from Run, after the device restart.
func (cfg *Config) NewUpdater() *Updater {
	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = hal.DiscoverDeviceID()
	}

	u := &Updater{
		deviceID: deviceID,
		metrics:  cfg.Metrics,
		recorder: metrics.NewRecorder(),
		tracker:  report.NewTracker(),
	}
	next := cfg.Restarter
	if next == nil {
		next = hal.NewRestarter(cfg.Device.Simulate)
	}
	u.restarter = &flushingRestarter{next: next, flush: u.flush}

	if err := cfg.assemble(u); err != nil {
		u.setupErr = err
	}
	return u
}

func (cfg *Config) assemble(u *Updater) error {
	src, err := cfg.newSource()
	if err != nil {
		return err
	}

	store, err := partition.Open(cfg.Partition.Dir, cfg.Partition.SlotSize)
	if err != nil {
		return fmt.Errorf("failed to open partition store: %w", err)
	}

	otaCfg := ota.Config{
		Source:     src,
		Store:      store,
		Restarter:  u.restarter,
		SizeBudget: cfg.Firmware.SizeBudget,
		ChunkSize:  cfg.Firmware.ChunkSize,
	}
	if src.RequiresNetwork() {
		radio, err := hal.TakeRadio(cfg.Wifi, cfg.Device.Simulate)
		if err != nil {
			return fmt.Errorf("failed to take radio: %w", err)
		}
		otaCfg.Connector = connectivity.NewManager(radio,
			connectivity.WithTimeouts(cfg.Wifi.StartTimeout, cfg.Wifi.ConnectTimeout),
			connectivity.WithPollInterval(cfg.Wifi.PollInterval),
		)
		otaCfg.Network = connectivity.Config{SSID: cfg.Wifi.SSID, Password: cfg.Wifi.Password}
	}

	reporters := report.Multi{u.tracker, u.recorder}
	if cfg.Mqtt.Enabled() {
		client, builder, err := cfg.newMqttClient(u.deviceID)
		if err != nil {
			return fmt.Errorf("failed to init mqtt client: %w", err)
		}
		u.mqtt = client
		reporters = append(reporters, report.NewMQTT(client, builder, u.deviceID))
	}
	otaCfg.Reporter = reporters

	if cfg.Http.Enabled() {
		u.server = server.NewServer(cfg.Http, u.tracker, u.recorder.Handler())
	}

	u.orchestrator, err = ota.New(otaCfg)
	return err
}

func (cfg *Config) newSource() (source.Source, error) {
	fw := cfg.Firmware
	switch fw.Source {
	case options.FirmwareSourceEmbedded:
		if len(cfg.EmbeddedImage) == 0 {
			return nil, errors.New("no firmware image is embedded in this binary, rebuild with -tags embedded")
		}
		if len(cfg.EmbeddedImage) < firmware.HeaderWindowSize {
			return nil, fmt.Errorf("embedded firmware image is %d bytes, shorter than an image header: "+
				"replace the placeholder at cmd/cpeer-updater/app/firmware.bin and rebuild", len(cfg.EmbeddedImage))
		}
		return source.NewEmbedded(cfg.EmbeddedImage), nil
	case options.FirmwareSourceFile:
		return source.LoadFile(fw.Path)
	case options.FirmwareSourceHTTP:
		return source.NewHTTP(fw.URL, source.WithHTTPClient(source.NewHTTPClient(fw.Timeout, fw.InsecureSkipVerify))), nil
	case options.FirmwareSourceS3:
		return source.NewS3(cfg.S3, fw.Object, fw.InsecureSkipVerify)
	default:
		return nil, fmt.Errorf("unknown firmware source %q", fw.Source)
	}
}

type statusMessage struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}

func (cfg *Config) newMqttClient(deviceID string) (mqtt.Client, *topic.TopicBuilder, error) {
	builder := topic.NewTopicBuilder(cfg.Mqtt.TopicRoot)

	mqttConfig := cfg.Mqtt.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("cpeer-updater-%s", deviceID)
	}

	// The broker stamps reception time, so the will carries no timestamp.
	offline, _ := json.Marshal(statusMessage{DeviceID: deviceID, Online: false, Reason: "UnexpectedDisconnect"})
	mqttConfig.WillTopic = builder.Status(deviceID)
	mqttConfig.WillPayload = offline

	client, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}
	return client, builder, nil
}

// flushingRestarter drains telemetry before handing over to the device
// restart.
type flushingRestarter struct {
	next  core.Restarter
	flush func()
}

func (r *flushingRestarter) Restart() error {
	r.flush()
	log.Info("Restarting device")
	return r.next.Restart()
}
