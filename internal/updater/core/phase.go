package core

import "time"

// Phase is a state of the update orchestrator.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseConnecting  Phase = "connecting"
	PhaseDownloading Phase = "downloading"
	PhaseWriting     Phase = "writing"
	PhaseCompleting  Phase = "completing"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted || p == PhaseFailed
}

// Progress is a point-in-time view of one update attempt.
type Progress struct {
	Phase        Phase     `json:"phase"`
	BytesWritten int64     `json:"bytesWritten"`
	TotalBytes   int64     `json:"totalBytes"` // -1 when the source does not know its length
	Version      string    `json:"version,omitempty"`
	TargetSlot   string    `json:"targetSlot,omitempty"`
	ErrorKind    Kind      `json:"errorKind,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
