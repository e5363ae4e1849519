package ota

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/autopeer-io/updater/internal/updater/connectivity"
	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/partition"
	"github.com/autopeer-io/updater/internal/updater/source"
)

// fakeSource serves data either as an embedded blob or as a stream of
// unknown length, optionally failing after failAfter bytes. Without a
// readErr the stream stalls there, returning no data and no error.
type fakeSource struct {
	kind      source.Kind
	data      []byte
	openErr   error
	readErr   error
	failAfter int
	// gate, when set, blocks the stream once failAfter bytes were read
	// until it is closed.
	gate chan struct{}

	opened bool
}

func embedded(data []byte) *fakeSource { return &fakeSource{kind: source.KindEmbedded, data: data} }
func streamed(data []byte) *fakeSource { return &fakeSource{kind: source.KindHTTP, data: data} }

func (s *fakeSource) Kind() source.Kind     { return s.kind }
func (s *fakeSource) RequiresNetwork() bool { return s.kind != source.KindEmbedded }

func (s *fakeSource) Open(context.Context) (source.Stream, error) {
	s.opened = true
	if s.openErr != nil {
		return nil, s.openErr
	}
	size := source.UnknownSize
	if s.kind == source.KindEmbedded {
		size = int64(len(s.data))
	}
	return &fakeStream{src: s, r: bytes.NewReader(s.data), size: size}, nil
}

type fakeStream struct {
	src  *fakeSource
	r    *bytes.Reader
	read int
	size int64
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.src.failAfter > 0 && s.read >= s.src.failAfter {
		if s.src.gate != nil {
			<-s.src.gate
			s.src.failAfter = 0
		} else {
			return 0, s.src.readErr
		}
	}
	if s.src.failAfter > 0 && s.read+len(p) > s.src.failAfter {
		p = p[:s.src.failAfter-s.read]
	}
	n, err := s.r.Read(p)
	s.read += n
	return n, err
}

func (s *fakeStream) Close() error { return nil }
func (s *fakeStream) Size() int64  { return s.size }

// fakeStore records the write protocol.
type fakeStore struct {
	mu sync.Mutex

	beginErr    error
	writeErr    error
	failWriteAt int
	completeErr error
	abortErr    error
	slotErr     error

	open      bool
	begun     int
	writes    int
	completed int
	aborted   int
	data      bytes.Buffer
	calls     []string
}

var slotB = partition.Slot{Index: 1, Label: "ota_1", Size: DefaultSizeBudget, State: partition.SlotStateEmpty}

func (s *fakeStore) BeginWrite() (partition.WriteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "begin")
	if s.open {
		return nil, core.Errorf(core.KindOtaAlreadyInProgress, partition.ErrInProgress)
	}
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.open = true
	s.begun++
	return &fakeSession{store: s}, nil
}

func (s *fakeStore) slot(op string, slot partition.Slot) (partition.Slot, error) {
	s.calls = append(s.calls, op)
	if s.slotErr != nil {
		return partition.Slot{}, core.OpError(core.KindSlotQuery, op, s.slotErr)
	}
	return slot, nil
}

func (s *fakeStore) BootSlot() (partition.Slot, error) {
	return s.slot(core.OpBootSlot, partition.Slot{Index: 0, Label: "ota_0", Size: DefaultSizeBudget})
}

func (s *fakeStore) RunningSlot() (partition.Slot, error) {
	return s.slot(core.OpRunningSlot, partition.Slot{Index: 0, Label: "ota_0", Size: DefaultSizeBudget})
}

func (s *fakeStore) UpdateSlot() (partition.Slot, error) {
	return s.slot(core.OpUpdateSlot, slotB)
}

type fakeSession struct {
	store *fakeStore
}

func (w *fakeSession) Slot() partition.Slot { return slotB }

func (w *fakeSession) Write(p []byte) error {
	s := w.store
	s.writes++
	if s.writeErr != nil && s.writes >= s.failWriteAt {
		return s.writeErr
	}
	s.data.Write(p)
	return nil
}

func (w *fakeSession) Complete() error {
	s := w.store
	s.calls = append(s.calls, "complete")
	s.open = false
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed++
	return nil
}

func (w *fakeSession) Abort() error {
	s := w.store
	s.calls = append(s.calls, "abort")
	s.open = false
	s.aborted++
	return s.abortErr
}

type fakeConnector struct {
	err   error
	calls int
}

func (c *fakeConnector) Establish(context.Context, connectivity.Config) (*connectivity.Handle, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &connectivity.Handle{SSID: "lab", Address: netip.MustParseAddr("192.168.4.2"), Elapsed: time.Second}, nil
}

type countingRestarter struct {
	calls int
	err   error
}

func (r *countingRestarter) Restart() error {
	r.calls++
	return r.err
}

type recordingReporter struct {
	mu     sync.Mutex
	phases []core.Phase
	last   core.Progress
}

func (r *recordingReporter) Report(_ context.Context, p core.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.phases); n == 0 || r.phases[n-1] != p.Phase {
		r.phases = append(r.phases, p.Phase)
	}
	r.last = p
}

var errBoom = errors.New("boom")

var _ io.Reader = (*fakeStream)(nil)
