package core

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Every component returns errors of
// exactly one kind so the orchestrator and operators can tell them apart.
type Kind string

const (
	KindUnknown Kind = ""

	// Connectivity bring-up.
	KindConnectivityConfig         Kind = "ConnectivityConfig"
	KindConnectivityStart          Kind = "ConnectivityStart"
	KindConnectivityStartTimeout   Kind = "ConnectivityStartTimeout"
	KindConnectivityConnect        Kind = "ConnectivityConnect"
	KindConnectivityConnectTimeout Kind = "ConnectivityConnectTimeout"
	KindConnectivityWait           Kind = "ConnectivityWait"

	// Firmware source and image.
	KindTransportSetup   Kind = "TransportSetup"
	KindTransportRead    Kind = "TransportRead"
	KindFirmwareTooLarge Kind = "FirmwareTooLarge"
	KindHeaderParse      Kind = "HeaderParse"

	// Partition store.
	KindOtaAlreadyInProgress Kind = "OtaAlreadyInProgress"
	KindOtaStart             Kind = "OtaStart"
	KindOtaWrite             Kind = "OtaWrite"
	KindOtaComplete          Kind = "OtaComplete"
	KindOtaAbort             Kind = "OtaAbort"
	KindSlotQuery            Kind = "SlotQuery"
)

// Ops used as Error.Op details.
const (
	OpRequest  = "request"
	OpResponse = "response"

	OpBootSlot    = "boot"
	OpRunningSlot = "running"
	OpUpdateSlot  = "update"
)

// Error is the typed failure carried through the update pipeline.
type Error struct {
	Kind Kind
	// Op narrows the kind, e.g. which handshake step or which slot query failed.
	Op string
	// Size is the over-budget byte total for KindFirmwareTooLarge.
	Size int64
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += "(" + e.Op + ")"
	}
	if e.Kind == KindFirmwareTooLarge && e.Size > 0 {
		msg += fmt.Sprintf(": %d bytes", e.Size)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by op when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// Sentinels for errors.Is.
var (
	ErrConnectivityConfig         = &Error{Kind: KindConnectivityConfig}
	ErrConnectivityStart          = &Error{Kind: KindConnectivityStart}
	ErrConnectivityStartTimeout   = &Error{Kind: KindConnectivityStartTimeout}
	ErrConnectivityConnect        = &Error{Kind: KindConnectivityConnect}
	ErrConnectivityConnectTimeout = &Error{Kind: KindConnectivityConnectTimeout}
	ErrConnectivityWait           = &Error{Kind: KindConnectivityWait}
	ErrTransportSetup             = &Error{Kind: KindTransportSetup}
	ErrTransportRead              = &Error{Kind: KindTransportRead}
	ErrFirmwareTooLarge           = &Error{Kind: KindFirmwareTooLarge}
	ErrHeaderParse                = &Error{Kind: KindHeaderParse}
	ErrOtaAlreadyInProgress       = &Error{Kind: KindOtaAlreadyInProgress}
	ErrOtaStart                   = &Error{Kind: KindOtaStart}
	ErrOtaWrite                   = &Error{Kind: KindOtaWrite}
	ErrOtaComplete                = &Error{Kind: KindOtaComplete}
	ErrOtaAbort                   = &Error{Kind: KindOtaAbort}
	ErrSlotQuery                  = &Error{Kind: KindSlotQuery}
)

// Errorf builds an *Error of the given kind wrapping err.
func Errorf(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// OpError builds an *Error with an op detail.
func OpError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// TooLarge reports a budget violation at the given running total.
func TooLarge(total, budget int64) *Error {
	return &Error{
		Kind: KindFirmwareTooLarge,
		Size: total,
		Err:  fmt.Errorf("image exceeds budget of %d bytes", budget),
	}
}

// KindOf returns the kind of the first *Error in err's tree.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
