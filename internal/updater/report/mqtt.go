package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/mqtt"
	"github.com/autopeer-io/updater/pkg/mqtt/topic"
)

// Publisher is the part of an MQTT client the reporter needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
	IsConnected() bool
}

var _ Publisher = (mqtt.Client)(nil)

// progressMessage is the wire form of a progress report.
type progressMessage struct {
	DeviceID string `json:"deviceId"`
	core.Progress
}

// MQTT publishes progress to {root}/ota/progress/{deviceID}. Reports are
// dropped while the client is not connected; terminal phases are retained
// so the last outcome survives the restart.
type MQTT struct {
	client   Publisher
	topic    string
	deviceID string
	timeout  time.Duration
}

var _ core.Reporter = (*MQTT)(nil)

// NewMQTT returns a reporter for deviceID publishing through client.
func NewMQTT(client Publisher, builder *topic.TopicBuilder, deviceID string) *MQTT {
	return &MQTT{
		client:   client,
		topic:    builder.OTAProgress(deviceID),
		deviceID: deviceID,
		timeout:  2 * time.Second,
	}
}

func (r *MQTT) Report(ctx context.Context, p core.Progress) {
	if !r.client.IsConnected() {
		log.Debug("Progress not published, broker unreachable", "phase", p.Phase)
		return
	}

	payload, err := json.Marshal(progressMessage{DeviceID: r.deviceID, Progress: p})
	if err != nil {
		log.Error(err, "Failed to encode progress")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	qos := 0
	if p.Phase.Terminal() {
		qos = 1
	}
	if err := r.client.Publish(ctx, r.topic, qos, p.Phase.Terminal(), payload); err != nil {
		log.Warn("Failed to publish progress", "topic", r.topic, "phase", p.Phase, "error", err)
	}
}
