package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/updater/internal/updater"
	"github.com/autopeer-io/updater/pkg/app"
	"github.com/autopeer-io/updater/pkg/log"
	"github.com/autopeer-io/updater/pkg/options"
)

type UpdaterOptions struct {
	WifiOptions      *options.WifiOptions      `json:"wifi" mapstructure:"wifi"`
	FirmwareOptions  *options.FirmwareOptions  `json:"firmware" mapstructure:"firmware"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	PartitionOptions *options.PartitionOptions `json:"partition" mapstructure:"partition"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	MetricsOptions   *options.MetricsOptions   `json:"metrics" mapstructure:"metrics"`
	DeviceOptions    *options.DeviceOptions    `json:"device" mapstructure:"device"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*UpdaterOptions)(nil)

func NewUpdaterOptions() *UpdaterOptions {
	return &UpdaterOptions{
		WifiOptions:      options.NewWifiOptions(),
		FirmwareOptions:  options.NewFirmwareOptions(),
		S3Options:        options.NewS3Options(),
		PartitionOptions: options.NewPartitionOptions(),
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		MetricsOptions:   options.NewMetricsOptions(),
		DeviceOptions:    options.NewDeviceOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *UpdaterOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.WifiOptions.AddFlags(fss.FlagSet("wifi"))
	o.FirmwareOptions.AddFlags(fss.FlagSet("firmware"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.PartitionOptions.AddFlags(fss.FlagSet("partition"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MetricsOptions.AddFlags(fss.FlagSet("metrics"))
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *UpdaterOptions) Complete() error {
	return nil
}

func (o *UpdaterOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.WifiOptions.Validate()...)
	errs = append(errs, o.FirmwareOptions.Validate()...)
	if o.FirmwareOptions.Source == options.FirmwareSourceS3 {
		errs = append(errs, o.S3Options.Validate()...)
	}
	errs = append(errs, o.PartitionOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MetricsOptions.Validate()...)
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *UpdaterOptions) Config() (*updater.Config, error) {
	return &updater.Config{
		Wifi:      o.WifiOptions,
		Firmware:  o.FirmwareOptions,
		S3:        o.S3Options,
		Partition: o.PartitionOptions,
		Mqtt:      o.MqttOptions,
		Http:      o.HttpOptions,
		Metrics:   o.MetricsOptions,
		Device:    o.DeviceOptions,
	}, nil
}
