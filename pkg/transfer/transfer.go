// Package transfer performs the two local mutations of a sync: moving an
// existing file into place and downloading a missing one. Neither
// operation ever replaces a file that already exists at the destination.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/metrics"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/pool"
	"github.com/paulschiretz/pgl-photosync/pkg/sharded"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// TempPattern is the name pattern of in-flight download files.
const TempPattern = "." + buildinfo.AppID + "-*.tmp"

const defaultBufferSizeKB = 256

// Suffixes appended to an item's base URL to fetch the original bytes.
const (
	photoDownloadSuffix = "=d"
	videoDownloadSuffix = "=dv"
)

// DownloadURL returns the URL serving the original bytes of item.
func DownloadURL(item catalog.MediaItem) string {
	if item.IsVideo {
		return item.BaseURL + videoDownloadSuffix
	}
	return item.BaseURL + photoDownloadSuffix
}

// Executor runs moves and downloads. It is safe for concurrent use.
type Executor struct {
	dryRun     bool
	httpClient *http.Client
	bufferPool *pool.FixedBufferPool
	metrics    metrics.Metrics

	// dirCache remembers directories known to exist; dirGroup collapses
	// concurrent creation of the same directory into one MkdirAll.
	dirCache *sharded.Set
	dirGroup singleflight.Group
}

// Option customizes an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Executor) { e.httpClient = hc }
}

// NewExecutor creates an executor for the given plan.
func NewExecutor(p *Plan, m metrics.Metrics, opts ...Option) *Executor {
	if p == nil {
		p = &Plan{}
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	bufKB := p.BufferSizeKB
	if bufKB <= 0 {
		bufKB = defaultBufferSizeKB
	}
	e := &Executor{
		dryRun:     p.DryRun,
		httpClient: &http.Client{Timeout: p.Timeout},
		bufferPool: pool.NewFixedBuffer(bufKB * 1024),
		metrics:    m,
		dirCache:   sharded.NewSet(sharded.DefaultShards),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureDir creates dir and its parents if needed. Concurrent calls for
// the same directory perform the filesystem work once.
func (e *Executor) EnsureDir(dir string) error {
	dir = filepath.Clean(dir)
	if e.dirCache.Has(dir) {
		return nil
	}

	_, err, _ := e.dirGroup.Do(dir, func() (any, error) {
		if e.dirCache.Has(dir) {
			return nil, nil
		}

		if e.dryRun {
			if loaded := e.dirCache.LoadOrStore(dir); !loaded {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					plog.Notice("[DRY RUN] DIR", "path", dir)
				}
			}
			return nil, nil
		}

		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
		case err == nil:
			return nil, syncerr.FileSystem("create directory", dir, fmt.Errorf("path exists and is not a directory"))
		case os.IsNotExist(err):
			if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
				return nil, syncerr.FileSystem("create directory", dir, err)
			}
			e.metrics.AddDirsCreated(1)
			plog.Notice("DIR", "path", dir)
		default:
			return nil, syncerr.FileSystem("stat directory", dir, err)
		}

		e.dirCache.Store(dir)
		return nil, nil
	})
	return err
}

// Move renames an existing local file to its planned location. It refuses
// to overwrite anything already at to.
func (e *Executor) Move(from, to string) error {
	if e.dryRun {
		plog.Notice("[DRY RUN] MOVE", "from", from, "to", to)
		return nil
	}
	if err := renameNoReplace(from, to); err != nil {
		return syncerr.FileSystem("move", to, err)
	}
	plog.Notice("MOVE", "from", from, "to", to)
	return nil
}

// Download streams the original bytes of item to to. The bytes land in a
// temp file next to to and are renamed into place only after a complete
// write, so an error never leaves a partial file at to.
func (e *Executor) Download(ctx context.Context, item catalog.MediaItem, to string) (retErr error) {
	url := DownloadURL(item)
	if e.dryRun {
		plog.Notice("[DRY RUN] DOWNLOAD", "file", item.Filename, "to", to)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return syncerr.Download("build download request", url, 0, err)
	}
	req.Header.Set("User-Agent", buildinfo.AppID+"/"+buildinfo.Version)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return syncerr.Download("download", url, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return syncerr.Download("download", url, resp.StatusCode, errors.New(resp.Status))
	}

	dir := filepath.Dir(to)
	out, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return syncerr.IO("create temp file", dir, err)
	}
	absTempPath := out.Name()
	// Cleared once the rename succeeds.
	defer func() {
		if absTempPath != "" {
			out.Close()
			os.Remove(absTempPath)
		}
	}()

	bufPtr := e.bufferPool.Get()
	defer e.bufferPool.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	dst := &metricWriter{w: out, metrics: e.metrics}
	written, err := io.CopyBuffer(dst, resp.Body, buf)
	if err != nil {
		if dst.err != nil {
			return syncerr.IO("write", absTempPath, dst.err)
		}
		return syncerr.Download("read download body", url, resp.StatusCode, err)
	}
	// A body shorter than its declared length is never renamed into place.
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return syncerr.Download("read download body", url, resp.StatusCode,
			fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength))
	}

	if err := out.Chmod(util.UserWritableFilePerms); err != nil {
		return syncerr.IO("chmod", absTempPath, err)
	}
	if err := out.Close(); err != nil {
		return syncerr.IO("close", absTempPath, err)
	}
	if err := renameNoReplace(absTempPath, to); err != nil {
		return syncerr.FileSystem("rename download into place", to, err)
	}
	absTempPath = ""

	plog.Notice("DOWNLOAD", "file", item.Filename, "to", to, "bytes", written)
	return nil
}

// metricWriter counts bytes written to disk and keeps the first write error
// so the caller can tell disk failures from network failures.
type metricWriter struct {
	w       io.Writer
	metrics metrics.Metrics
	err     error
}

func (mw *metricWriter) Write(p []byte) (int, error) {
	n, err := mw.w.Write(p)
	mw.metrics.AddBytesDownloaded(int64(n))
	if err != nil && mw.err == nil {
		mw.err = err
	}
	return n, err
}
