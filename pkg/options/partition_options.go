package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PartitionOptions)(nil)

// PartitionOptions locates the dual-slot layout.
type PartitionOptions struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	SlotSize int64  `json:"slot-size" mapstructure:"slot-size"`
}

func NewPartitionOptions() *PartitionOptions {
	return &PartitionOptions{
		Dir:      "/var/lib/autopeer/ota",
		SlotSize: 1_572_864,
	}
}

func (o *PartitionOptions) Validate() []error {
	errs := []error{}

	if o.Dir == "" {
		errs = append(errs, errors.New("--partition.dir must not be empty"))
	}
	if o.SlotSize <= 0 {
		errs = append(errs, errors.New("--partition.slot-size must be positive"))
	}

	return errs
}

func (o *PartitionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "partition.dir", o.Dir, "Directory holding the two application slots and otadata.")
	fs.Int64Var(&o.SlotSize, "partition.slot-size", o.SlotSize, "Size in bytes of each application slot.")
}
