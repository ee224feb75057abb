//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
)

// platformCheckVolume verifies that the drive or network share root for a
// given path exists. For "Z:\photos" it checks "Z:\".
func platformCheckVolume(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	checkVol := volume
	if !strings.HasSuffix(checkVol, string(filepath.Separator)) {
		checkVol += string(filepath.Separator)
	}
	checkVol = filepath.Clean(checkVol)

	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return syncerr.IO("check destination volume", checkVol, fmt.Errorf("volume root does not exist, ensure the drive is connected"))
	}
	return nil
}

func platformWarnUnmounted(string) {}
