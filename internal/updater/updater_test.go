package updater

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/autopeer-io/updater/internal/updater/core"
	"github.com/autopeer-io/updater/internal/updater/firmware/firmwaretest"
	"github.com/autopeer-io/updater/internal/updater/partition"
	"github.com/autopeer-io/updater/pkg/options"
)

var testImage = firmwaretest.Image{Version: "v2.0.0", ProjectName: "esp32-demo", IDFVersion: "v5.1"}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Wifi:      options.NewWifiOptions(),
		Firmware:  options.NewFirmwareOptions(),
		S3:        options.NewS3Options(),
		Partition: options.NewPartitionOptions(),
		Mqtt:      options.NewMqttOptions(),
		Http:      options.NewHttpOptions(),
		Metrics:   options.NewMetricsOptions(),
		Device:    &options.DeviceOptions{ID: "esp32-01", Simulate: true},
	}
	cfg.Partition.Dir = t.TempDir()
	return cfg
}

type countingRestarter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRestarter) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

type pushRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (p *pushRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.paths = append(p.paths, r.Method+" "+r.URL.Path)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestRunFileSource(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 100_000)
	path := filepath.Join(t.TempDir(), "ota.bin")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}

	gw := &pushRecorder{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.Firmware.Source = options.FirmwareSourceFile
	cfg.Firmware.Path = path
	cfg.Metrics.PushGateway = srv.URL
	cfg.Http.Addr = "127.0.0.1:0"

	u := cfg.NewUpdater()
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	last, ok := u.tracker.Last()
	if !ok || last.Phase != core.PhaseDone {
		t.Errorf("last progress = %+v, want phase %s", last, core.PhaseDone)
	}

	store, err := partition.Open(cfg.Partition.Dir, cfg.Partition.SlotSize)
	if err != nil {
		t.Fatal(err)
	}
	boot, _ := store.BootSlot()
	if got, _ := os.ReadFile(store.ImagePath(boot)); len(got) != len(blob) {
		t.Errorf("boot slot holds %d bytes, want %d", len(got), len(blob))
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.paths) == 0 || gw.paths[0] != "PUT /metrics/job/cpeer-updater/device/esp32-01" {
		t.Errorf("pushes = %v, want metrics pushed before restart", gw.paths)
	}
}

func TestRunReportsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 1024)), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := newTestConfig(t)
	cfg.Firmware.Source = options.FirmwareSourceFile
	cfg.Firmware.Path = path

	err := cfg.NewUpdater().Run(context.Background())
	if !errors.Is(err, core.ErrHeaderParse) {
		t.Errorf("Run() error = %v, want kind %s", err, core.KindHeaderParse)
	}
}

func TestRunHTTPSourceSimulated(t *testing.T) {
	blob := firmwaretest.Blob(testImage, 50_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(blob)
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.Wifi.SSID, cfg.Wifi.Password = "lab", "secret"
	cfg.Firmware.URL = srv.URL + "/ota.bin"

	u := cfg.NewUpdater()
	if err := u.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunRestartsAfterSetupFailure(t *testing.T) {
	writeFirmware := func(t *testing.T, c *Config) {
		path := filepath.Join(t.TempDir(), "ota.bin")
		if err := os.WriteFile(path, firmwaretest.Blob(testImage, 10_000), 0o644); err != nil {
			t.Fatal(err)
		}
		c.Firmware.Source = options.FirmwareSourceFile
		c.Firmware.Path = path
	}

	tests := []struct {
		name    string
		setup   func(*testing.T, *Config)
		restart error
		want    string
	}{
		{
			name: "corrupt otadata",
			setup: func(t *testing.T, c *Config) {
				writeFirmware(t, c)
				if err := os.WriteFile(filepath.Join(c.Partition.Dir, "otadata.json"), []byte("garbage"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
			want: "failed to open partition store",
		},
		{
			name: "missing station interface",
			setup: func(_ *testing.T, c *Config) {
				c.Device.Simulate = false
				c.Wifi.Interface = "nosuchwlan9"
				c.Firmware.URL = "http://192.168.4.1/ota.bin"
			},
			want: "failed to take radio",
		},
		{
			name: "missing firmware file",
			setup: func(t *testing.T, c *Config) {
				c.Firmware.Source = options.FirmwareSourceFile
				c.Firmware.Path = filepath.Join(t.TempDir(), "missing.bin")
			},
			want: "missing.bin",
		},
		{
			name: "restart error joined",
			setup: func(_ *testing.T, c *Config) {
				c.Firmware.Source = options.FirmwareSourceEmbedded
			},
			restart: errors.New("reboot refused"),
			want:    "reboot refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.setup(t, cfg)
			r := &countingRestarter{err: tt.restart}
			cfg.Restarter = r

			u := cfg.NewUpdater()
			err := u.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Run() error = %v, want it to mention %q", err, tt.want)
			}
			if r.calls != 1 {
				t.Errorf("Restart called %d times, want 1", r.calls)
			}
			last, ok := u.tracker.Last()
			if !ok || last.Phase != core.PhaseFailed {
				t.Errorf("last progress = %+v, want phase %s", last, core.PhaseFailed)
			}
		})
	}
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"embedded without image", func(c *Config) { c.Firmware.Source = options.FirmwareSourceEmbedded }, true},
		{"embedded placeholder", func(c *Config) {
			c.Firmware.Source = options.FirmwareSourceEmbedded
			c.EmbeddedImage = []byte("placeholder\n")
		}, true},
		{"embedded", func(c *Config) {
			c.Firmware.Source = options.FirmwareSourceEmbedded
			c.EmbeddedImage = firmwaretest.Blob(testImage, 4096)
		}, false},
		{"missing file", func(c *Config) {
			c.Firmware.Source = options.FirmwareSourceFile
			c.Firmware.Path = filepath.Join(t.TempDir(), "missing.bin")
		}, true},
		{"http", func(c *Config) { c.Firmware.URL = "http://192.168.4.1/ota.bin" }, false},
		{"unknown", func(c *Config) { c.Firmware.Source = "ftp" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.mutate(cfg)
			_, err := cfg.newSource()
			if (err != nil) != tt.wantErr {
				t.Errorf("newSource() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
