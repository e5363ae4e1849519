package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/firmware"
	"github.com/autopeer-io/updater/pkg/log"
)

const (
	otaDataFile = "otadata.json"
	slotCount   = 2
)

var (
	ErrInProgress    = errors.New("an OTA session is already open")
	ErrSessionClosed = errors.New("write session already completed or aborted")
	ErrSlotFull      = errors.New("write exceeds slot size")
	ErrImageInvalid  = errors.New("image failed validation")
)

// otaData is the persisted selection record, the equivalent of the otadata partition.
type otaData struct {
	Boot   int                  `json:"boot"`
	States [slotCount]SlotState `json:"states"`
}

// FileStore keeps two slots as files in a directory. A session writes to
// "<label>.bin.part"; Complete renames it into place and then flips the boot
// slot in otadata.json, so an interrupted write never changes what boots.
type FileStore struct {
	dir      string
	slotSize int64
	running  int

	// writing is the only guard against concurrent sessions.
	writing atomic.Bool

	mu sync.Mutex // serializes otadata.json updates
}

var _ Store = (*FileStore)(nil)

// Open opens or initializes the layout in dir. The slot that is marked
// bootable at open time is taken as the running slot.
func Open(dir string, slotSize int64) (*FileStore, error) {
	if slotSize <= 0 {
		return nil, fmt.Errorf("slot size must be positive, got %d", slotSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition dir: %w", err)
	}

	s := &FileStore{dir: dir, slotSize: slotSize}

	data, err := s.readOtaData()
	if errors.Is(err, fs.ErrNotExist) {
		data = &otaData{Boot: 0, States: [slotCount]SlotState{SlotStateValid, SlotStateEmpty}}
		if err := s.writeOtaData(data); err != nil {
			return nil, err
		}
		log.Info("Initialized partition layout", "dir", dir, "slotSize", slotSize)
	} else if err != nil {
		return nil, err
	}

	s.running = data.Boot
	return s, nil
}

func (s *FileStore) BeginWrite() (WriteSession, error) {
	if !s.writing.CompareAndSwap(false, true) {
		return nil, core.Errorf(core.KindOtaAlreadyInProgress, ErrInProgress)
	}

	slot, err := s.UpdateSlot()
	if err != nil {
		s.writing.Store(false)
		return nil, core.Errorf(core.KindOtaStart, err)
	}

	f, err := os.OpenFile(s.partPath(slot), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		s.writing.Store(false)
		return nil, core.Errorf(core.KindOtaStart, err)
	}

	log.Debug("Opened write session", "slot", slot.Label)
	return &fileSession{store: s, slot: slot, f: f}, nil
}

func (s *FileStore) BootSlot() (Slot, error) {
	data, err := s.readOtaData()
	if err != nil {
		return Slot{}, core.OpError(core.KindSlotQuery, core.OpBootSlot, err)
	}
	return s.slot(data, data.Boot), nil
}

func (s *FileStore) RunningSlot() (Slot, error) {
	data, err := s.readOtaData()
	if err != nil {
		return Slot{}, core.OpError(core.KindSlotQuery, core.OpRunningSlot, err)
	}
	return s.slot(data, s.running), nil
}

func (s *FileStore) UpdateSlot() (Slot, error) {
	data, err := s.readOtaData()
	if err != nil {
		return Slot{}, core.OpError(core.KindSlotQuery, core.OpUpdateSlot, err)
	}
	return s.slot(data, (s.running+1)%slotCount), nil
}

// ImagePath returns the file holding the image of slot.
func (s *FileStore) ImagePath(slot Slot) string {
	return filepath.Join(s.dir, slot.Label+".bin")
}

func (s *FileStore) partPath(slot Slot) string {
	return s.ImagePath(slot) + ".part"
}

func (s *FileStore) slot(data *otaData, index int) Slot {
	return Slot{
		Index: index,
		Label: fmt.Sprintf("ota_%d", index),
		Size:  s.slotSize,
		State: data.States[index],
	}
}

func (s *FileStore) readOtaData() (*otaData, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, otaDataFile))
	if err != nil {
		return nil, err
	}

	var data otaData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", otaDataFile, err)
	}
	if data.Boot < 0 || data.Boot >= slotCount {
		return nil, fmt.Errorf("corrupt %s: boot slot %d", otaDataFile, data.Boot)
	}
	return &data, nil
}

// writeOtaData replaces otadata.json atomically.
func (s *FileStore) writeOtaData(data *otaData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, otaDataFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", otaDataFile, err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, otaDataFile))
}

// activate marks slot index valid and bootable.
func (s *FileStore) activate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readOtaData()
	if err != nil {
		return err
	}
	data.Boot = index
	data.States[index] = SlotStateValid
	return s.writeOtaData(data)
}

type fileSession struct {
	store *FileStore
	slot  Slot
	f     *os.File

	written int64
	magic   byte
	closed  bool
}

func (w *fileSession) Slot() Slot { return w.slot }

func (w *fileSession) Write(p []byte) error {
	if w.closed {
		return core.Errorf(core.KindOtaWrite, ErrSessionClosed)
	}
	if w.written+int64(len(p)) > w.slot.Size {
		return core.Errorf(core.KindOtaWrite, fmt.Errorf("%w: %d > %d", ErrSlotFull, w.written+int64(len(p)), w.slot.Size))
	}
	if len(p) == 0 {
		return nil
	}

	if _, err := w.f.Write(p); err != nil {
		return core.Errorf(core.KindOtaWrite, err)
	}
	if w.written == 0 {
		w.magic = p[0]
	}
	w.written += int64(len(p))
	return nil
}

func (w *fileSession) Complete() error {
	if w.closed {
		return core.Errorf(core.KindOtaComplete, ErrSessionClosed)
	}
	w.closed = true
	defer w.store.writing.Store(false)

	if w.written == 0 || w.magic != firmware.ImageMagic {
		w.discard()
		return core.Errorf(core.KindOtaComplete, ErrImageInvalid)
	}

	if err := w.f.Sync(); err != nil {
		w.discard()
		return core.Errorf(core.KindOtaComplete, err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.store.partPath(w.slot))
		return core.Errorf(core.KindOtaComplete, err)
	}
	if err := os.Rename(w.store.partPath(w.slot), w.store.ImagePath(w.slot)); err != nil {
		_ = os.Remove(w.store.partPath(w.slot))
		return core.Errorf(core.KindOtaComplete, err)
	}
	if err := w.store.activate(w.slot.Index); err != nil {
		return core.Errorf(core.KindOtaComplete, err)
	}

	log.Info("Boot slot switched", "slot", w.slot.Label, "bytes", w.written)
	return nil
}

func (w *fileSession) Abort() error {
	if w.closed {
		return core.Errorf(core.KindOtaAbort, ErrSessionClosed)
	}
	w.closed = true
	defer w.store.writing.Store(false)

	closeErr := w.f.Close()
	if err := os.Remove(w.store.partPath(w.slot)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.Errorf(core.KindOtaAbort, err)
	}
	if closeErr != nil {
		return core.Errorf(core.KindOtaAbort, closeErr)
	}

	log.Debug("Write session aborted", "slot", w.slot.Label, "bytes", w.written)
	return nil
}

func (w *fileSession) discard() {
	_ = w.f.Close()
	_ = os.Remove(w.store.partPath(w.slot))
}
