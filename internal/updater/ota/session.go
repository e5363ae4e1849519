package ota

import (
	"errors"
	"fmt"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/partition"
)

// SessionState is the lifecycle of one Session. It only moves forward.
type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionStarted
	SessionWriting
	SessionCompleted
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "NotStarted"
	case SessionStarted:
		return "Started"
	case SessionWriting:
		return "Writing"
	case SessionCompleted:
		return "Completed"
	case SessionAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session tracks one partition write of one update attempt and enforces the
// byte budget in front of the store.
type Session struct {
	ws      partition.WriteSession
	budget  int64
	written int64
	state   SessionState
}

// BeginSession opens a write session on store. The store's own
// in-progress check decides whether a second attempt may start.
func BeginSession(store partition.Store, budget int64) (*Session, error) {
	ws, err := store.BeginWrite()
	if err != nil {
		return nil, err
	}
	return &Session{ws: ws, budget: budget, state: SessionStarted}, nil
}

func (s *Session) Slot() partition.Slot { return s.ws.Slot() }
func (s *Session) Written() int64       { return s.written }
func (s *Session) Budget() int64        { return s.budget }
func (s *Session) State() SessionState  { return s.state }

// Open reports whether the session still needs a Complete or an Abort.
func (s *Session) Open() bool {
	return s.state == SessionStarted || s.state == SessionWriting
}

// Write forwards p to the store unless the running total would exceed the
// budget, in which case nothing is written and a FirmwareTooLarge error
// carrying that total is returned.
func (s *Session) Write(p []byte) error {
	if !s.Open() {
		return core.Errorf(core.KindOtaWrite, fmt.Errorf("session is %s", s.state))
	}

	total := s.written + int64(len(p))
	if total > s.budget {
		return core.TooLarge(total, s.budget)
	}

	if err := s.ws.Write(p); err != nil {
		return err
	}
	s.written = total
	s.state = SessionWriting
	return nil
}

// Complete finalizes the image and makes its slot the boot slot. The store
// releases the session whether or not Complete succeeds, so a failed
// Complete leaves the session aborted with the boot slot unchanged.
func (s *Session) Complete() error {
	if s.state != SessionWriting {
		return core.Errorf(core.KindOtaComplete, fmt.Errorf("session is %s", s.state))
	}
	if err := s.ws.Complete(); err != nil {
		s.state = SessionAborted
		return err
	}
	s.state = SessionCompleted
	return nil
}

// Abort discards the write. The session counts as aborted even if the
// store reports a failure, so it is never aborted twice.
func (s *Session) Abort() error {
	if !s.Open() {
		return nil
	}
	s.state = SessionAborted
	return s.ws.Abort()
}

// abortWith aborts the session after cause, keeping cause as the primary error.
func (s *Session) abortWith(cause error) error {
	if err := s.Abort(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
