//go:build !windows

package preflight

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

func platformCheckVolume(string) error { return nil }

// platformWarnUnmounted warns when path resides on the root filesystem
// outside the home directory. That is where a library ends up when its
// external drive is not mounted.
func platformWarnUnmounted(path string) {
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" && strings.HasPrefix(path, homeDir) {
		return
	}

	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return
	}
	if err := unix.Stat(path, &pathStat); err != nil {
		return
	}
	if pathStat.Dev == rootStat.Dev && path != "/" {
		plog.Warn("Destination root is on the system disk. Ensure an external drive is mounted if one is expected.", "path", path)
	}
}
