package topic

import (
	"fmt"
)

// Constants defining the standard topic segments.
// Changing these values breaks every consumer of device reports.
const (
	// SuffixOTAProgress carries phase transitions of an update attempt (Device -> Cloud).
	// Structure: {root}/ota/progress/{deviceID}
	SuffixOTAProgress = "ota/progress"

	// SuffixStatus carries device liveness, including the last will (Device -> Cloud).
	// Structure: {root}/status/{deviceID}
	SuffixStatus = "status"
)

// Wildcard is the single-level MQTT wildcard.
const Wildcard = "+"

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "iot/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// OTAProgress returns the topic a device reports update progress on.
func (b *TopicBuilder) OTAProgress(deviceID string) string {
	return b.build(SuffixOTAProgress, deviceID)
}

// OTAProgressWildcard returns the filter matching progress of ALL devices.
// Result: {root}/ota/progress/+
func (b *TopicBuilder) OTAProgressWildcard() string {
	return b.build(SuffixOTAProgress, Wildcard)
}

// Status returns the liveness topic of a device.
func (b *TopicBuilder) Status(deviceID string) string {
	return b.build(SuffixStatus, deviceID)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
