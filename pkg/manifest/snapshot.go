package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// Snapshot file name stem written into the destination root.
const SnapshotBaseName = "pgl-photosync.manifest"

const snapshotVersion = 1

// SnapshotFormat selects the on-disk encoding of a snapshot.
type SnapshotFormat int

const (
	SnapshotJSON SnapshotFormat = iota
	SnapshotGzip
	SnapshotZstd
)

var snapshotFormatToExt = map[SnapshotFormat]string{
	SnapshotJSON: ".json",
	SnapshotGzip: ".json.gz",
	SnapshotZstd: ".json.zst",
}

var snapshotFormatToString = map[SnapshotFormat]string{
	SnapshotJSON: "json",
	SnapshotGzip: "gzip",
	SnapshotZstd: "zstd",
}

var stringToSnapshotFormat = util.InvertMap(snapshotFormatToString)

func (f SnapshotFormat) String() string {
	if s, ok := snapshotFormatToString[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown_snapshot_format(%d)", f)
}

// Ext returns the file extension for the format.
func (f SnapshotFormat) Ext() string { return snapshotFormatToExt[f] }

// ParseSnapshotFormat converts a string into a SnapshotFormat.
func ParseSnapshotFormat(s string) (SnapshotFormat, error) {
	if f, ok := stringToSnapshotFormat[strings.ToLower(s)]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("invalid snapshot format: %q. Must be 'json', 'gzip', or 'zstd'", s)
}

func (f SnapshotFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *SnapshotFormat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("snapshot format should be a string, got %s", data)
	}
	format, err := ParseSnapshotFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}

// FormatFromPath infers the snapshot format from a file name.
func FormatFromPath(path string) (SnapshotFormat, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, snapshotFormatToExt[SnapshotGzip]):
		return SnapshotGzip, nil
	case strings.HasSuffix(lower, snapshotFormatToExt[SnapshotZstd]):
		return SnapshotZstd, nil
	case strings.HasSuffix(lower, snapshotFormatToExt[SnapshotJSON]):
		return SnapshotJSON, nil
	}
	return 0, fmt.Errorf("cannot infer snapshot format from %q", path)
}

type snapshotFile struct {
	Version   int       `json:"version"`
	App       string    `json:"app"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"createdAt"`
	Digest    string    `json:"digest"`
	Files     []Entry   `json:"files"`
}

// digest hashes the ordered entry list so a truncated or hand-edited
// snapshot is detected on read.
func digest(files []Entry) string {
	h := xxhash.New()
	for _, e := range files {
		h.WriteString(e.RelPath)
		h.WriteString("\x00")
		h.WriteString(strconv.FormatInt(e.Size, 10))
		h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// WriteSnapshot persists m to path. The encoding follows the path's
// extension. The file is written to a temp file first and renamed into place.
func WriteSnapshot(path string, m *Manifest) (retErr error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+buildinfo.AppID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bufWriter := bufio.NewWriter(tmp)
	var encoded io.WriteCloser
	switch format {
	case SnapshotZstd:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		encoded = zw
	case SnapshotGzip:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		encoded = gw
	default:
		encoded = nopWriteCloser{bufWriter}
	}

	doc := snapshotFile{
		Version:   snapshotVersion,
		App:       buildinfo.Name,
		Root:      m.Root,
		CreatedAt: time.Now().UTC(),
		Digest:    digest(m.Files),
		Files:     m.Files,
	}
	enc := json.NewEncoder(encoded)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := encoded.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot encoding: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Chmod(tmpPath, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot. Full paths are
// rebuilt against the recorded root.
func ReadSnapshot(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch format {
	case SnapshotGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case SnapshotZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var doc snapshotFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	if got := digest(doc.Files); got != doc.Digest {
		return nil, fmt.Errorf("snapshot digest mismatch: recorded %s, computed %s", doc.Digest, got)
	}
	for i := range doc.Files {
		doc.Files[i].FullPath = util.DenormalizedAbsPath(doc.Root, doc.Files[i].RelPath)
	}
	return newManifest(doc.Root, doc.Files), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
