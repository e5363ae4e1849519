package app

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/updater/internal/updater/partition"
	"github.com/autopeer-io/updater/pkg/options"
)

func newSlotsCommand() *cobra.Command {
	opts := options.NewPartitionOptions()
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show the firmware slots and which one boots next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if errs := opts.Validate(); len(errs) > 0 {
				return errs[0]
			}
			store, err := partition.Open(opts.Dir, opts.SlotSize)
			if err != nil {
				return err
			}
			table, err := slotTable(store)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func slotTable(store partition.Store) (*uitable.Table, error) {
	running, err := store.RunningSlot()
	if err != nil {
		return nil, err
	}
	boot, err := store.BootSlot()
	if err != nil {
		return nil, err
	}
	update, err := store.UpdateSlot()
	if err != nil {
		return nil, err
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("SLOT", "STATE", "SIZE", "ROLE")
	for _, s := range []partition.Slot{running, update} {
		var roles []string
		if s.Index == running.Index {
			roles = append(roles, "running")
		}
		if s.Index == boot.Index {
			roles = append(roles, "boot")
		}
		if s.Index == update.Index {
			roles = append(roles, "update")
		}
		table.AddRow(s.Label, s.State, s.Size, roles)
	}
	return table, nil
}
