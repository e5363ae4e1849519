package ota

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/updater/internal/updater/core"
	fsmutil "github.com/autopeer-io/updater/internal/pkg/util/fsm"
)

const (
	// EventConnect starts network bring-up.
	EventConnect = "event_connect"
	// EventDownload opens the source and reads the header window.
	EventDownload = "event_download"
	// EventWrite marks the header as committed to the target slot.
	EventWrite = "event_write"
	// EventComplete finalizes the session.
	EventComplete = "event_complete"
	// EventFinish records the new boot slot.
	EventFinish = "event_finish"
	// EventAbort discards an open session.
	EventAbort = "event_abort"
	// EventFail ends an attempt that has no open session.
	EventFail = "event_fail"
)

func phases(ps ...core.Phase) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// machine is the phase state machine of one update attempt.
type machine struct {
	*fsm.FSM

	session func() *Session
	enter   func(ctx context.Context, p core.Phase)
}

func newMachine(session func() *Session, enter func(ctx context.Context, p core.Phase)) *machine {
	m := &machine{session: session, enter: enter}

	events := fsm.Events{
		{Name: EventConnect, Src: phases(core.PhaseIdle), Dst: string(core.PhaseConnecting)},
		{Name: EventDownload, Src: phases(core.PhaseIdle, core.PhaseConnecting), Dst: string(core.PhaseDownloading)},
		{Name: EventWrite, Src: phases(core.PhaseDownloading), Dst: string(core.PhaseWriting)},
		{Name: EventComplete, Src: phases(core.PhaseWriting), Dst: string(core.PhaseCompleting)},
		{Name: EventFinish, Src: phases(core.PhaseCompleting), Dst: string(core.PhaseDone)},

		// Aborted is only reachable while a session may be open.
		{Name: EventAbort, Src: phases(core.PhaseDownloading, core.PhaseWriting), Dst: string(core.PhaseAborted)},
		{Name: EventFail, Src: phases(core.PhaseIdle, core.PhaseConnecting, core.PhaseDownloading, core.PhaseCompleting), Dst: string(core.PhaseFailed)},
	}

	callbacks := fsm.Callbacks{
		// Guards (before_...)
		"before_" + EventComplete: fsmutil.Guard(m.GuardSessionWritten),
		"before_" + EventFail:     fsmutil.Guard(m.GuardNoOpenSession),

		// Side-Effects
		"enter_state": fsmutil.WrapEvent(m.ActionEnterPhase),
	}

	m.FSM = fsm.NewFSM(string(core.PhaseIdle), events, callbacks)
	return m
}

func (m *machine) Phase() core.Phase {
	return core.Phase(m.Current())
}

// GuardSessionWritten refuses to complete a session that never wrote.
func (m *machine) GuardSessionWritten(ctx context.Context, e *fsm.Event) error {
	if s := m.session(); s == nil || s.State() != SessionWriting {
		return errors.New("cannot complete a session that has not written")
	}
	return nil
}

// GuardNoOpenSession refuses to fail while a session is still open; that
// path has to go through abort.
func (m *machine) GuardNoOpenSession(ctx context.Context, e *fsm.Event) error {
	if s := m.session(); s != nil && s.Open() {
		return errors.New("open session must be aborted, not failed")
	}
	return nil
}

func (m *machine) ActionEnterPhase(ctx context.Context, e *fsm.Event) error {
	m.enter(ctx, core.Phase(e.Dst))
	return nil
}
