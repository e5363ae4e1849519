package ota

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/firmware"
	"github.com/autopeer-io/updater/internal/updater/firmware/firmwaretest"
	"github.com/autopeer-io/updater/internal/updater/partition"
)

var testImage = firmwaretest.Image{
	Version:     "v2.1.0",
	ProjectName: "blinky",
	CompileTime: "10:02:11",
	CompileDate: "Oct  1 2026",
	IDFVersion:  "v5.2.1",
}

func newOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Restarter == nil {
		cfg.Restarter = &countingRestarter{}
	}
	if cfg.Connector == nil {
		cfg.Connector = &fakeConnector{}
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestEmbeddedUpdate(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 1_000_000)
	store := &fakeStore{}
	reporter := &recordingReporter{}

	res := newOrchestrator(t, Config{Source: embedded(blob), Store: store, Reporter: reporter}).Attempt(context.Background())

	if res.Err != nil {
		t.Fatalf("Attempt() error = %v", res.Err)
	}
	if res.Phase != core.PhaseDone {
		t.Errorf("Phase = %s, want %s", res.Phase, core.PhaseDone)
	}
	if res.BytesWritten != 1_000_000 {
		t.Errorf("BytesWritten = %d, want 1000000", res.BytesWritten)
	}
	if !bytes.Equal(store.data.Bytes(), blob) {
		t.Error("store content differs from the embedded image")
	}
	if store.completed != 1 || store.aborted != 0 {
		t.Errorf("completed = %d, aborted = %d, want 1 and 0", store.completed, store.aborted)
	}
	if res.Info == nil || res.Info.Version != "v2.1.0" {
		t.Errorf("Info = %+v, want version v2.1.0", res.Info)
	}
	if res.Slot != slotB {
		t.Errorf("Slot = %v, want %v", res.Slot, slotB)
	}

	want := []core.Phase{core.PhaseDownloading, core.PhaseWriting, core.PhaseCompleting, core.PhaseDone}
	if diff := cmp.Diff(want, reporter.phases); diff != "" {
		t.Errorf("reported phases mismatch (-want +got):\n%s", diff)
	}
	if reporter.last.BytesWritten != 1_000_000 || reporter.last.TotalBytes != 1_000_000 {
		t.Errorf("last progress = %+v", reporter.last)
	}
}

func TestStreamedUpdate(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 300_000)
	store := &fakeStore{}
	conn := &fakeConnector{}
	reporter := &recordingReporter{}

	res := newOrchestrator(t, Config{Source: streamed(blob), Store: store, Connector: conn, Reporter: reporter}).Attempt(context.Background())

	if res.Err != nil {
		t.Fatalf("Attempt() error = %v", res.Err)
	}
	if conn.calls != 1 {
		t.Errorf("Establish called %d times, want 1", conn.calls)
	}
	if !bytes.Equal(store.data.Bytes(), blob) {
		t.Error("store content differs from the streamed image")
	}

	want := []core.Phase{core.PhaseConnecting, core.PhaseDownloading, core.PhaseWriting, core.PhaseCompleting, core.PhaseDone}
	if diff := cmp.Diff(want, reporter.phases); diff != "" {
		t.Errorf("reported phases mismatch (-want +got):\n%s", diff)
	}
	if reporter.last.TotalBytes != -1 {
		t.Errorf("TotalBytes = %d, want -1 for a stream of unknown length", reporter.last.TotalBytes)
	}
}

func TestStreamedImageOverBudget(t *testing.T) {
	store := &fakeStore{}
	reporter := &recordingReporter{}

	res := newOrchestrator(t, Config{
		Source:   streamed(firmwaretest.Blob(testImage, 1_600_000)),
		Store:    store,
		Reporter: reporter,
	}).Attempt(context.Background())

	if !errors.Is(res.Err, core.ErrFirmwareTooLarge) {
		t.Fatalf("Attempt() error = %v, want %s", res.Err, core.KindFirmwareTooLarge)
	}

	// 288 header bytes, then the 1536th chunk of 1024 is the first to cross.
	var e *core.Error
	errors.As(res.Err, &e)
	if want := int64(firmware.HeaderWindowSize + 1536*DefaultChunkSize); e.Size != want {
		t.Errorf("reported total = %d, want %d", e.Size, want)
	}

	wantWritten := int64(firmware.HeaderWindowSize + 1535*DefaultChunkSize)
	if res.BytesWritten != wantWritten || int64(store.data.Len()) != wantWritten {
		t.Errorf("written = %d (store %d), want %d", res.BytesWritten, store.data.Len(), wantWritten)
	}
	if res.BytesWritten > DefaultSizeBudget {
		t.Errorf("written %d bytes past the budget", res.BytesWritten)
	}
	if res.Phase != core.PhaseAborted || store.aborted != 1 || store.completed != 0 {
		t.Errorf("phase = %s, aborted = %d, completed = %d", res.Phase, store.aborted, store.completed)
	}
	if reporter.last.ErrorKind != core.KindFirmwareTooLarge {
		t.Errorf("last progress error kind = %q", reporter.last.ErrorKind)
	}
}

func TestEmbeddedImageOverBudget(t *testing.T) {
	store := &fakeStore{}

	res := newOrchestrator(t, Config{Source: embedded(firmwaretest.Blob(testImage, 1_600_000)), Store: store}).Attempt(context.Background())

	var e *core.Error
	if !errors.As(res.Err, &e) || e.Kind != core.KindFirmwareTooLarge || e.Size != 1_600_000 {
		t.Fatalf("Attempt() error = %v, want FirmwareTooLarge of 1600000 bytes", res.Err)
	}
	if res.Phase != core.PhaseFailed || store.begun != 0 {
		t.Errorf("phase = %s, begun = %d, want failed before any session", res.Phase, store.begun)
	}
}

func TestBudgetBoundary(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"exactly at budget", int(DefaultSizeBudget), false},
		{"one byte over", int(DefaultSizeBudget) + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			res := newOrchestrator(t, Config{Source: streamed(firmwaretest.Blob(testImage, tt.size)), Store: store}).Attempt(context.Background())

			if (res.Err != nil) != tt.wantErr {
				t.Fatalf("Attempt() error = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if int64(store.data.Len()) > DefaultSizeBudget {
				t.Errorf("store holds %d bytes, over the budget", store.data.Len())
			}
		})
	}
}

func TestShortHeaderRead(t *testing.T) {
	store := &fakeStore{}

	res := newOrchestrator(t, Config{
		Source:       streamed(bytes.Repeat([]byte{0xE9}, 10)),
		Store:        store,
		HeaderWindow: 32,
	}).Attempt(context.Background())

	if !errors.Is(res.Err, core.ErrTransportRead) || !errors.Is(res.Err, io.ErrUnexpectedEOF) {
		t.Fatalf("Attempt() error = %v, want an exact-read TransportRead", res.Err)
	}
	if res.Phase != core.PhaseFailed {
		t.Errorf("Phase = %s, want %s", res.Phase, core.PhaseFailed)
	}
	if len(store.calls) != 0 {
		t.Errorf("store calls = %v, want none", store.calls)
	}
}

func TestConnectivityFailure(t *testing.T) {
	src := streamed(firmwaretest.Blob(testImage, 4096))
	store := &fakeStore{}
	conn := &fakeConnector{err: core.Errorf(core.KindConnectivityStartTimeout, context.DeadlineExceeded)}

	res := newOrchestrator(t, Config{Source: src, Store: store, Connector: conn}).Attempt(context.Background())

	if !errors.Is(res.Err, core.ErrConnectivityStartTimeout) {
		t.Fatalf("Attempt() error = %v, want %s", res.Err, core.KindConnectivityStartTimeout)
	}
	if res.Phase != core.PhaseFailed || src.opened || len(store.calls) != 0 {
		t.Errorf("phase = %s, source opened = %v, store calls = %v", res.Phase, src.opened, store.calls)
	}
}

func TestFailurePaths(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 10_000)

	tests := []struct {
		name      string
		source    func() *fakeSource
		store     func() *fakeStore
		wantKind  core.Kind
		wantPhase core.Phase
		wantAbort bool
	}{
		{
			name:      "request failed",
			source:    func() *fakeSource { s := streamed(blob); s.openErr = core.OpError(core.KindTransportSetup, core.OpRequest, errBoom); return s },
			store:     func() *fakeStore { return &fakeStore{} },
			wantKind:  core.KindTransportSetup,
			wantPhase: core.PhaseFailed,
		},
		{
			name: "header parse",
			source: func() *fakeSource {
				bad := bytes.Clone(blob)
				bad[0] = 0x00
				return streamed(bad)
			},
			store:     func() *fakeStore { return &fakeStore{} },
			wantKind:  core.KindHeaderParse,
			wantPhase: core.PhaseFailed,
		},
		{
			name:      "slot query",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{slotErr: errBoom} },
			wantKind:  core.KindSlotQuery,
			wantPhase: core.PhaseFailed,
		},
		{
			name:      "already in progress",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{open: true} },
			wantKind:  core.KindOtaAlreadyInProgress,
			wantPhase: core.PhaseFailed,
		},
		{
			name:      "start failed",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{beginErr: core.Errorf(core.KindOtaStart, errBoom)} },
			wantKind:  core.KindOtaStart,
			wantPhase: core.PhaseFailed,
		},
		{
			name:      "header write failed",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{writeErr: core.Errorf(core.KindOtaWrite, errBoom), failWriteAt: 1} },
			wantKind:  core.KindOtaWrite,
			wantPhase: core.PhaseAborted,
			wantAbort: true,
		},
		{
			name:      "body write failed",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{writeErr: core.Errorf(core.KindOtaWrite, errBoom), failWriteAt: 4} },
			wantKind:  core.KindOtaWrite,
			wantPhase: core.PhaseAborted,
			wantAbort: true,
		},
		{
			name: "body read failed",
			source: func() *fakeSource {
				s := streamed(blob)
				s.failAfter, s.readErr = 5000, errBoom
				return s
			},
			store:     func() *fakeStore { return &fakeStore{} },
			wantKind:  core.KindTransportRead,
			wantPhase: core.PhaseAborted,
			wantAbort: true,
		},
		{
			name: "header read stalled",
			source: func() *fakeSource {
				s := streamed(blob)
				s.failAfter = 100
				return s
			},
			store:     func() *fakeStore { return &fakeStore{} },
			wantKind:  core.KindTransportRead,
			wantPhase: core.PhaseFailed,
		},
		{
			name: "body read stalled",
			source: func() *fakeSource {
				s := streamed(blob)
				s.failAfter = 5000
				return s
			},
			store:     func() *fakeStore { return &fakeStore{} },
			wantKind:  core.KindTransportRead,
			wantPhase: core.PhaseAborted,
			wantAbort: true,
		},
		{
			name:      "complete failed",
			source:    func() *fakeSource { return streamed(blob) },
			store:     func() *fakeStore { return &fakeStore{completeErr: core.Errorf(core.KindOtaComplete, errBoom)} },
			wantKind:  core.KindOtaComplete,
			wantPhase: core.PhaseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.store()
			preOpen := store.open
			res := newOrchestrator(t, Config{Source: tt.source(), Store: store}).Attempt(context.Background())

			if got := core.KindOf(res.Err); got != tt.wantKind {
				t.Errorf("error kind = %q (%v), want %q", got, res.Err, tt.wantKind)
			}
			if res.Phase != tt.wantPhase {
				t.Errorf("Phase = %s, want %s", res.Phase, tt.wantPhase)
			}
			if got := store.aborted == 1; got != tt.wantAbort {
				t.Errorf("aborted = %d, want abort %v", store.aborted, tt.wantAbort)
			}
			if store.completed != 0 {
				t.Error("a failed attempt completed the session")
			}
			if store.open && !preOpen {
				t.Error("attempt left its session open")
			}
		})
	}
}

func TestAbortFailureKeepsCause(t *testing.T) {
	store := &fakeStore{
		writeErr:    core.Errorf(core.KindOtaWrite, errBoom),
		failWriteAt: 2,
		abortErr:    core.Errorf(core.KindOtaAbort, errors.New("flash busy")),
	}

	res := newOrchestrator(t, Config{Source: streamed(firmwaretest.Blob(testImage, 8192)), Store: store}).Attempt(context.Background())

	if !errors.Is(res.Err, core.ErrOtaWrite) || !errors.Is(res.Err, core.ErrOtaAbort) {
		t.Fatalf("Attempt() error = %v, want both OtaWrite and OtaAbort", res.Err)
	}
	if core.KindOf(res.Err) != core.KindOtaWrite {
		t.Errorf("KindOf() = %q, want the original cause first", core.KindOf(res.Err))
	}
	if res.Phase != core.PhaseAborted {
		t.Errorf("Phase = %s, want %s", res.Phase, core.PhaseAborted)
	}
}

func TestRunRestartsExactlyOnce(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 4096)

	tests := []struct {
		name      string
		source    *fakeSource
		store     *fakeStore
		restart   error
		wantPhase core.Phase
	}{
		{"done", embedded(blob), &fakeStore{}, nil, core.PhaseDone},
		{"aborted", streamed(blob), &fakeStore{writeErr: errBoom, failWriteAt: 2}, nil, core.PhaseAborted},
		{"failed", streamed(blob[:10]), &fakeStore{}, nil, core.PhaseFailed},
		{"restart error", embedded(blob), &fakeStore{}, errors.New("reset refused"), core.PhaseDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRestarter{err: tt.restart}
			res := newOrchestrator(t, Config{Source: tt.source, Store: tt.store, Restarter: r}).Run(context.Background())

			if r.calls != 1 {
				t.Errorf("Restart called %d times, want 1", r.calls)
			}
			if res.Phase != tt.wantPhase {
				t.Errorf("Phase = %s, want %s", res.Phase, tt.wantPhase)
			}
			if !errors.Is(res.RestartErr, tt.restart) {
				t.Errorf("RestartErr = %v, want %v", res.RestartErr, tt.restart)
			}
		})
	}
}

func TestElapsedUsesClock(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))
	reporter := core.ReporterFunc(func(_ context.Context, p core.Progress) {
		if p.Phase == core.PhaseWriting {
			clk.Step(3 * time.Second)
		}
	})

	res := newOrchestrator(t, Config{
		Source:           embedded(firmwaretest.Blob(testImage, 2048)),
		Store:            &fakeStore{},
		Reporter:         reporter,
		ProgressInterval: 1 << 30,
		Clock:            clk,
	}).Attempt(context.Background())

	if res.Elapsed != 3*time.Second {
		t.Errorf("Elapsed = %s, want 3s", res.Elapsed)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(Config{}) succeeded")
	}
	_, err := New(Config{Source: streamed(nil), Store: &fakeStore{}, Restarter: &countingRestarter{}})
	if err == nil {
		t.Error("New() accepted a network source without a connector")
	}
}

func TestUpdateIntoFileStore(t *testing.T) {
	store, err := partition.Open(t.TempDir(), DefaultSizeBudget)
	if err != nil {
		t.Fatal(err)
	}
	blob := firmwaretest.Blob(testImage, 200_000)

	res := newOrchestrator(t, Config{Source: embedded(blob), Store: store}).Attempt(context.Background())
	if res.Err != nil {
		t.Fatalf("Attempt() error = %v", res.Err)
	}

	boot, err := store.BootSlot()
	if err != nil {
		t.Fatal(err)
	}
	if boot.Index != res.Slot.Index {
		t.Errorf("boot slot = %v, want the written slot %v", boot, res.Slot)
	}
	got, err := os.ReadFile(store.ImagePath(boot))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("slot image differs from the embedded image")
	}
}

func TestConcurrentAttemptFailsFast(t *testing.T) {
	store, err := partition.Open(t.TempDir(), DefaultSizeBudget)
	if err != nil {
		t.Fatal(err)
	}
	blob := firmwaretest.Blob(testImage, 64*1024)

	first := embedded(blob)
	first.failAfter = 8192
	first.gate = make(chan struct{})

	started := make(chan struct{})
	reporter := core.ReporterFunc(func(_ context.Context, p core.Progress) {
		if p.Phase == core.PhaseWriting && p.BytesWritten == firmware.HeaderWindowSize {
			close(started)
		}
	})

	o := newOrchestrator(t, Config{Source: first, Store: store, Reporter: reporter})
	done := make(chan *Result, 1)
	go func() {
		done <- o.Attempt(context.Background())
	}()
	<-started

	second := newOrchestrator(t, Config{Source: embedded(blob), Store: store}).Attempt(context.Background())
	if !errors.Is(second.Err, core.ErrOtaAlreadyInProgress) {
		t.Errorf("second Attempt() error = %v, want %s", second.Err, core.KindOtaAlreadyInProgress)
	}
	if second.Phase != core.PhaseFailed {
		t.Errorf("second Phase = %s, want %s", second.Phase, core.PhaseFailed)
	}

	close(first.gate)
	if res := <-done; res.Err != nil || res.Phase != core.PhaseDone {
		t.Errorf("first attempt = %s, %v; want done", res.Phase, res.Err)
	}
}
