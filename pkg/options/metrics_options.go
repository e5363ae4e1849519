package options

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MetricsOptions)(nil)

// MetricsOptions configures where update metrics are pushed before restart.
type MetricsOptions struct {
	// PushGateway is the Prometheus push-gateway URL. Empty disables pushing.
	PushGateway string `json:"push-gateway" mapstructure:"push-gateway"`
	Job         string `json:"job" mapstructure:"job"`
}

func NewMetricsOptions() *MetricsOptions {
	return &MetricsOptions{Job: "cpeer-updater"}
}

func (o *MetricsOptions) Validate() []error {
	if o.PushGateway == "" {
		return nil
	}
	if _, err := url.Parse(o.PushGateway); err != nil {
		return []error{fmt.Errorf("--metrics.push-gateway: %w", err)}
	}
	return nil
}

func (o *MetricsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.PushGateway, "metrics.push-gateway", o.PushGateway, "Prometheus push-gateway URL receiving update metrics. Empty disables pushing.")
	fs.StringVar(&o.Job, "metrics.job", o.Job, "Job label used when pushing metrics.")
}
