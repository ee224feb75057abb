// Package preflight provides checks that run before a sync touches the
// destination root. Apart from creating a missing root they leave the
// filesystem as they found it.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// WriteTestPattern names the probe file created by CheckRootWritable.
const WriteTestPattern = ".~pgl-photosync-writetest.*.tmp"

// Run performs the checks enabled in p and reports whether the root exists
// afterwards. In a dry run a missing root is reported, not created.
func Run(root string, p *Plan) (bool, error) {
	if p.RootAccessible {
		if err := CheckRootAccessible(root); err != nil {
			return false, err
		}
	}

	exists, err := rootExists(root)
	if err != nil {
		return false, err
	}

	if !exists && p.EnsureRootExists {
		if p.DryRun {
			plog.Info("[DRY RUN] Would create destination root", "path", root)
		} else {
			if err := os.MkdirAll(root, util.UserWritableDirPerms); err != nil {
				return false, syncerr.FileSystem("create destination root", root, err)
			}
			plog.Info("Created destination root", "path", root)
			exists = true
		}
	}

	if exists && p.RootWritable && !p.DryRun {
		if err := CheckRootWritable(root); err != nil {
			return exists, err
		}
	}
	return exists, nil
}

// CheckRootAccessible ensures the destination root is usable before
// anything is written. It gives friendlier errors than a failing MkdirAll.
//
// The checks include:
//  1. The volume holding the root is present (Windows drives and shares).
//  2. If the root exists, it is a directory.
//  3. If the root does not exist, its deepest existing ancestor is a
//     readable directory.
//
// On Unix a root that sits on the system disk outside the home directory
// is reported as a warning, as it usually means a drive is not mounted.
func CheckRootAccessible(root string) error {
	if err := platformCheckVolume(root); err != nil {
		return err
	}

	info, err := os.Stat(root)
	if err == nil {
		if !info.IsDir() {
			return syncerr.IO("check destination root", root, fmt.Errorf("path exists but is not a directory"))
		}
		platformWarnUnmounted(root)
		return nil
	}
	if !os.IsNotExist(err) {
		return syncerr.IO("check destination root", root, err)
	}

	ancestor, err := deepestExistingAncestor(root)
	if err != nil {
		return err
	}
	platformWarnUnmounted(ancestor)
	return nil
}

// CheckRootWritable creates and removes a probe file in root.
func CheckRootWritable(root string) error {
	f, err := os.CreateTemp(root, WriteTestPattern)
	if err != nil {
		return syncerr.FileSystem("check destination root writable", root, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		plog.Warn("Could not remove write test file", "path", name, "error", err)
	}
	return nil
}

func rootExists(root string) (bool, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, syncerr.IO("stat destination root", root, err)
	}
	if !info.IsDir() {
		return false, syncerr.IO("stat destination root", root, fmt.Errorf("path exists but is not a directory"))
	}
	return true, nil
}

func deepestExistingAncestor(path string) (string, error) {
	current := path
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", syncerr.IO("check destination root", path, fmt.Errorf("no existing ancestor directory"))
		}
		info, err := os.Stat(parent)
		switch {
		case err == nil:
			if !info.IsDir() {
				return "", syncerr.IO("check destination root", path, fmt.Errorf("ancestor %s is not a directory", parent))
			}
			return parent, nil
		case !os.IsNotExist(err):
			return "", syncerr.IO("check destination root", path, fmt.Errorf("cannot access ancestor directory %s: %w", parent, err))
		}
		current = parent
	}
}
