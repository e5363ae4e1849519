package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FirmwareOptions)(nil)

// Firmware source names accepted by --firmware.source.
const (
	FirmwareSourceEmbedded = "embedded"
	FirmwareSourceFile     = "file"
	FirmwareSourceHTTP     = "http"
	FirmwareSourceS3       = "s3"
)

// FirmwareOptions selects where the image comes from and bounds its size.
type FirmwareOptions struct {
	Source string `json:"source" mapstructure:"source"`
	URL    string `json:"url" mapstructure:"url"`
	Path   string `json:"path" mapstructure:"path"`
	Object string `json:"object" mapstructure:"object"`

	// SizeBudget is the largest image the slot geometry accepts.
	SizeBudget int64 `json:"size-budget" mapstructure:"size-budget"`
	ChunkSize  int   `json:"chunk-size" mapstructure:"chunk-size"`

	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`
	InsecureSkipVerify bool          `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
}

func NewFirmwareOptions() *FirmwareOptions {
	return &FirmwareOptions{
		Source:     FirmwareSourceHTTP,
		SizeBudget: 1_572_864,
		ChunkSize:  1024,
		Timeout:    10 * time.Minute,
	}
}

func (o *FirmwareOptions) Validate() []error {
	errs := []error{}

	switch o.Source {
	case FirmwareSourceEmbedded:
	case FirmwareSourceFile:
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("--firmware.path is required for source %q", o.Source))
		}
	case FirmwareSourceHTTP:
		if u, err := url.Parse(o.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("--firmware.url %q is not an absolute URL (env OTA_LINK)", o.URL))
		}
	case FirmwareSourceS3:
		if o.Object == "" {
			errs = append(errs, fmt.Errorf("--firmware.object is required for source %q", o.Source))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown --firmware.source %q", o.Source))
	}

	if o.SizeBudget <= 0 {
		errs = append(errs, fmt.Errorf("--firmware.size-budget must be positive"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("--firmware.chunk-size must be positive"))
	}

	return errs
}

func (o *FirmwareOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Source, "firmware.source", o.Source, "Where the image comes from: embedded, file, http or s3.")
	fs.StringVar(&o.URL, "firmware.url", o.URL, "Image URL for the http source (env OTA_LINK).")
	fs.StringVar(&o.Path, "firmware.path", o.Path, "Image path for the file source.")
	fs.StringVar(&o.Object, "firmware.object", o.Object, "Object key for the s3 source.")
	fs.Int64Var(&o.SizeBudget, "firmware.size-budget", o.SizeBudget, "Largest image in bytes the update slot accepts.")
	fs.IntVar(&o.ChunkSize, "firmware.chunk-size", o.ChunkSize, "Bytes read and written per body chunk.")
	fs.DurationVar(&o.Timeout, "firmware.timeout", o.Timeout, "Overall download timeout for the http source.")
	fs.BoolVar(&o.InsecureSkipVerify, "firmware.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS verification when downloading.")
}
