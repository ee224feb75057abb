// Package manifest builds an in-memory listing of every regular file under
// the destination root. The listing is what the reconciler matches remote
// items against, keyed by case-insensitive basename.
package manifest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// Entry is one regular file found under the root.
type Entry struct {
	// RelPath is relative to the manifest root, always slash-separated.
	RelPath  string `json:"relPath"`
	FullPath string `json:"-"`
	Basename string `json:"basename"`
	Size     int64  `json:"size"`
}

// Manifest is the immutable result of a Build. It is safe for concurrent reads.
type Manifest struct {
	Root  string
	Files []Entry

	byName map[string][]int
}

func newManifest(root string, files []Entry) *Manifest {
	m := &Manifest{Root: root, Files: files, byName: make(map[string][]int, len(files))}
	for i, e := range files {
		key := matchKey(e.Basename)
		m.byName[key] = append(m.byName[key], i)
	}
	return m
}

func matchKey(name string) string {
	return strings.ToLower(name)
}

// Len returns the number of files in the manifest.
func (m *Manifest) Len() int { return len(m.Files) }

// TotalSize returns the summed size of every file in the manifest.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Files {
		total += e.Size
	}
	return total
}

// Lookup returns every entry whose basename equals name, ignoring case, in
// traversal order.
func (m *Manifest) Lookup(name string) []Entry {
	idx := m.byName[matchKey(name)]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Entry, len(idx))
	for i, j := range idx {
		out[i] = m.Files[j]
	}
	return out
}

// Find returns the entry matching name. When several entries share the
// basename, the one located at preferred wins; otherwise the first in
// traversal order is returned.
func (m *Manifest) Find(name, preferred string) (Entry, bool) {
	return m.FindFunc(name, preferred, nil)
}

// FindFunc is Find restricted to entries for which usable returns true.
// A nil usable accepts every entry.
func (m *Manifest) FindFunc(name, preferred string, usable func(Entry) bool) (Entry, bool) {
	var first Entry
	found := false
	for _, e := range m.Lookup(name) {
		if usable != nil && !usable(e) {
			continue
		}
		if preferred != "" && util.SamePath(e.FullPath, preferred) {
			return e, true
		}
		if !found {
			first, found = e, true
		}
	}
	return first, found
}

// Duplicates returns the entries of every basename that occurs more than once,
// keyed by the lower-cased basename.
func (m *Manifest) Duplicates() map[string][]Entry {
	dups := make(map[string][]Entry)
	for key, idx := range m.byName {
		if len(idx) < 2 {
			continue
		}
		for _, j := range idx {
			dups[key] = append(dups[key], m.Files[j])
		}
	}
	return dups
}

// Builder walks a directory tree into a Manifest.
type Builder struct{}

// NewBuilder creates a new manifest builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build lists every regular file below root. Symlinks are not followed.
// Any failure to read the root or one of its subdirectories is returned as
// an ErrIO error, since a partial manifest would cause needless downloads.
func (b *Builder) Build(ctx context.Context, root string, p *Plan) (*Manifest, error) {
	if p == nil {
		p = &Plan{}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, syncerr.IO("resolve manifest root", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, syncerr.IO("stat manifest root", absRoot, err)
	}
	if !info.IsDir() {
		return nil, syncerr.IO("stat manifest root", absRoot, fmt.Errorf("not a directory"))
	}

	fileExcl := makeExclusionSet(p.ExcludeFiles)
	dirExcl := makeExclusionSet(p.ExcludeDirs)

	var files []Entry
	// Directories still to visit. Subdirectories are pushed in reverse so
	// they pop in lexical order.
	pending := []string{absRoot}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, syncerr.IO("read directory", dir, err)
		}

		var subdirs []string
		for _, de := range entries {
			full := filepath.Join(dir, de.Name())
			rel, err := util.NormalizedRelPath(absRoot, full)
			if err != nil {
				return nil, syncerr.IO("relativize path", full, err)
			}

			switch {
			case de.IsDir():
				if dirExcl.matches(rel, de.Name()) {
					plog.Debug("Skipping excluded directory", "path", rel)
					continue
				}
				subdirs = append(subdirs, full)
			case de.Type().IsRegular():
				if fileExcl.matches(rel, de.Name()) {
					plog.Debug("Skipping excluded file", "path", rel)
					continue
				}
				fi, err := de.Info()
				if err != nil {
					return nil, syncerr.IO("stat file", full, err)
				}
				files = append(files, Entry{RelPath: rel, FullPath: full, Basename: de.Name(), Size: fi.Size()})
			default:
				if de.Type()&fs.ModeSymlink != 0 {
					plog.Debug("Skipping symlink", "path", rel)
				}
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			pending = append(pending, subdirs[i])
		}
	}

	return newManifest(absRoot, files), nil
}
