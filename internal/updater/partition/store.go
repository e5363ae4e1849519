package partition

import "fmt"

// SlotState is the bootloader's view of a slot.
type SlotState string

const (
	SlotStateValid   SlotState = "valid"
	SlotStateEmpty   SlotState = "empty"
	SlotStateInvalid SlotState = "invalid"
)

// Slot is one of the two application partitions.
type Slot struct {
	Index int       `json:"index"`
	Label string    `json:"label"`
	Size  int64     `json:"size"`
	State SlotState `json:"state"`
}

func (s Slot) String() string {
	return fmt.Sprintf("%s(%d bytes, %s)", s.Label, s.Size, s.State)
}

// Store is the dual-slot flash layout.
type Store interface {
	// BeginWrite opens a write session on the update slot. It fails with
	// KindOtaAlreadyInProgress while another session is open.
	BeginWrite() (WriteSession, error)

	// BootSlot is the slot the bootloader will run on next restart.
	BootSlot() (Slot, error)
	// RunningSlot is the slot the running firmware was loaded from.
	RunningSlot() (Slot, error)
	// UpdateSlot is the inactive slot that receives the next image.
	UpdateSlot() (Slot, error)
}

// WriteSession is the two-phase write protocol on the update slot: any
// number of Write calls followed by exactly one Complete or Abort.
type WriteSession interface {
	// Slot is the slot being written.
	Slot() Slot
	// Write appends p to the slot.
	Write(p []byte) error
	// Complete finalizes the image and makes the slot the boot slot.
	Complete() error
	// Abort discards the written bytes. The boot slot is unchanged.
	Abort() error
}
