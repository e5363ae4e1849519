//go:build linux

package hal

import (
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/login1"

	"github.com/autopeer-io/updater/pkg/log"
)

// systemRestarter asks logind for an orderly reboot and falls back to the
// reboot syscall when logind is missing or does not act within grace.
type systemRestarter struct {
	grace time.Duration
}

func newSystemRestarter() *systemRestarter {
	return &systemRestarter{grace: 15 * time.Second}
}

func (r *systemRestarter) Restart() error {
	syscall.Sync()

	if conn, err := login1.New(); err == nil {
		log.Info("System is rebooting NOW...")
		conn.Reboot(false)
		conn.Close()
		time.Sleep(r.grace)
		log.Warn("logind did not reboot in time, rebooting directly")
	} else {
		log.Debug("logind unavailable, rebooting directly", "error", err)
	}

	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
