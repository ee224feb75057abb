package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/engine"
	"github.com/paulschiretz/pgl-photosync/pkg/hints"
	"github.com/paulschiretz/pgl-photosync/pkg/hook"
	"github.com/paulschiretz/pgl-photosync/pkg/lockfile"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/planner"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/reconcile"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/transfer"
)

// --- Mocks ---

type fakeHooks struct {
	mu     sync.Mutex
	pre    []hook.RunInfo
	post   []hook.RunInfo
	preErr error
}

func (f *fakeHooks) RunPreSync(_ context.Context, _ *hook.Plan, info hook.RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pre = append(f.pre, info)
	return f.preErr
}

func (f *fakeHooks) RunPostSync(_ context.Context, _ *hook.Plan, info hook.RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.post = append(f.post, info)
	return hook.ErrNothingToExecute
}

type remoteItem struct {
	id, filename, creationTime string
	video                      bool
	content                    string // empty means the download returns 404
}

// fakeLibrary serves a one-page catalog and the media bytes behind it.
type fakeLibrary struct {
	t            *testing.T
	srv          *httptest.Server
	items        []remoteItem
	searchStatus int
	searches     atomic.Int32
	downloads    atomic.Int32
}

func newFakeLibrary(t *testing.T, items ...remoteItem) *fakeLibrary {
	t.Helper()
	lib := &fakeLibrary{t: t, items: items}
	lib.srv = httptest.NewServer(http.HandlerFunc(lib.serve))
	t.Cleanup(lib.srv.Close)
	return lib
}

func (l *fakeLibrary) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/mediaItems:search" {
		l.searches.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			l.t.Errorf("expected bearer token, but got %q", r.Header.Get("Authorization"))
		}
		if l.searchStatus != 0 {
			http.Error(w, "denied", l.searchStatus)
			return
		}
		var items []map[string]any
		for _, it := range l.items {
			mimeType := "image/jpeg"
			md := map[string]any{}
			if it.creationTime != "" {
				md["creationTime"] = it.creationTime
			}
			if it.video {
				mimeType = "video/mp4"
				md["video"] = map[string]any{"status": "READY"}
			}
			items = append(items, map[string]any{
				"id":            it.id,
				"baseUrl":       l.srv.URL + "/media/" + it.id,
				"mimeType":      mimeType,
				"filename":      it.filename,
				"mediaMetadata": md,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"mediaItems": items})
		return
	}

	l.downloads.Add(1)
	for _, it := range l.items {
		suffix := "=d"
		if it.video {
			suffix = "=dv"
		}
		if r.URL.Path == "/media/"+it.id+suffix && it.content != "" {
			w.Write([]byte(it.content))
			return
		}
	}
	http.NotFound(w, r)
}

func createFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
	return string(b)
}

func newPlan(t *testing.T, root string, mod func(*config.Config)) *planner.SyncPlan {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Destination = root
	cfg.Auth.AccessToken = "tok"
	cfg.Engine.ProgressIntervalSeconds = 0
	if mod != nil {
		mod(&cfg)
	}
	p, err := planner.GenerateSyncPlan(cfg)
	if err != nil {
		t.Fatalf("GenerateSyncPlan failed: %v", err)
	}
	return p
}

func newRunner(lib *fakeLibrary, hooks *fakeHooks) *engine.Runner {
	return engine.NewRunner(manifest.NewBuilder(), hooks,
		engine.WithCatalogOptions(catalogBaseURL(lib)),
		engine.WithTransferOptions(transfer.WithHTTPClient(lib.srv.Client())),
	)
}

func quietLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })
	return &buf
}

func TestExecuteSync_EndToEnd(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	createFile(t, filepath.Join(root, "IMG_1.JPG"), "local photo")
	createFile(t, filepath.Join(root, "2018", "OLD.JPG"), "already here")

	lib := newFakeLibrary(t,
		remoteItem{id: "p1", filename: "IMG_1.JPG", creationTime: "2019-05-01T10:00:00Z"},
		remoteItem{id: "p0", filename: "OLD.JPG", creationTime: "2018-01-01T00:00:00Z"},
		remoteItem{id: "v2", filename: "VID_2.MP4", creationTime: "2020-07-04T12:00:00Z", video: true, content: "video bytes"},
		remoteItem{id: "p3", filename: "NODATE.JPG", content: "no date"},
		remoteItem{id: "p4", filename: "GONE.JPG", creationTime: "2021-01-01T00:00:00Z"},
	)
	hooks := &fakeHooks{}
	runner := newRunner(lib, hooks)

	res, err := runner.ExecuteSync(context.Background(), newPlan(t, root, nil))
	if err != nil {
		t.Fatalf("ExecuteSync failed: %v", err)
	}

	if res.AlreadyCurrent != 1 || res.Moved != 1 || res.Downloaded != 2 || res.Failed != 1 {
		t.Errorf("expected 1 current, 1 moved, 2 downloaded, 1 failed, but got %+v", res)
	}
	if res.Settled() != 5 || len(res.Outcomes) != 5 {
		t.Errorf("expected every item to settle, but got %d", res.Settled())
	}

	// Outcomes follow catalog order.
	wantKinds := []reconcile.Kind{reconcile.Moved, reconcile.AlreadyCurrent, reconcile.Downloaded, reconcile.Downloaded, reconcile.Failed}
	for i, want := range wantKinds {
		if res.Outcomes[i].Kind != want {
			t.Errorf("outcome %d: expected %v, but got %v", i, want, res.Outcomes[i].Kind)
		}
	}
	if !errors.Is(res.Outcomes[4].Err, syncerr.ErrDownload) {
		t.Errorf("expected a download error for the missing item, but got %v", res.Outcomes[4].Err)
	}
	if failed := res.Failures(); len(failed) != 1 || failed[0].Item.ID != "p4" {
		t.Errorf("expected the failure map to hold p4 only, but got %+v", failed)
	}

	if got := readFile(t, filepath.Join(root, "2019", "IMG_1.JPG")); got != "local photo" {
		t.Errorf("expected moved file to keep its content, but got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "IMG_1.JPG")); !os.IsNotExist(err) {
		t.Error("expected the misplaced file to be gone from the root")
	}
	if got := readFile(t, filepath.Join(root, "2020", "VID_2.MP4")); got != "video bytes" {
		t.Errorf("expected video bytes, but got %q", got)
	}
	if got := readFile(t, filepath.Join(root, "UNKNOWN", "NODATE.JPG")); got != "no date" {
		t.Errorf("expected dateless item under UNKNOWN, but got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "2021", "GONE.JPG")); !os.IsNotExist(err) {
		t.Error("expected no file for the failed download")
	}
	if _, err := os.Stat(filepath.Join(root, lockfile.FileName)); !os.IsNotExist(err) {
		t.Error("expected the lock to be released")
	}

	if len(hooks.pre) != 1 || len(hooks.post) != 1 {
		t.Fatalf("expected one pre and one post hook call, but got %d and %d", len(hooks.pre), len(hooks.post))
	}
	post := hooks.post[0]
	if !post.Succeeded || post.Downloaded != 2 || post.Failed != 1 || post.RunID != res.RunID {
		t.Errorf("expected post hook to see the run's counts, but got %+v", post)
	}

	t.Run("Second run converges", func(t *testing.T) {
		res, err := runner.ExecuteSync(context.Background(), newPlan(t, root, nil))
		if err != nil {
			t.Fatalf("ExecuteSync failed: %v", err)
		}
		if res.AlreadyCurrent != 4 || res.Moved != 0 || res.Downloaded != 0 || res.Failed != 1 {
			t.Errorf("expected 4 current and the same failure, but got %+v", res)
		}
	})
}

func TestExecuteSync_DryRunChangesNothing(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	createFile(t, filepath.Join(root, "IMG_1.JPG"), "local photo")
	lib := newFakeLibrary(t,
		remoteItem{id: "p1", filename: "IMG_1.JPG", creationTime: "2019-05-01T10:00:00Z"},
		remoteItem{id: "p2", filename: "NEW.JPG", creationTime: "2019-05-02T10:00:00Z", content: "new"},
	)

	res, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, root, func(c *config.Config) {
		c.Runtime.DryRun = true
	}))
	if err != nil {
		t.Fatalf("ExecuteSync failed: %v", err)
	}
	if res.Moved != 1 || res.Downloaded != 1 {
		t.Errorf("expected the dry run to report 1 move and 1 download, but got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, "IMG_1.JPG")); err != nil {
		t.Error("expected the file to stay in place during a dry run")
	}
	if _, err := os.Stat(filepath.Join(root, "2019")); !os.IsNotExist(err) {
		t.Error("expected no directories to be created during a dry run")
	}
	if lib.downloads.Load() != 0 {
		t.Errorf("expected no download requests, but got %d", lib.downloads.Load())
	}
}

func TestExecuteSync_MissingRootIsFatal(t *testing.T) {
	quietLogs(t)
	testCases := []struct {
		name   string
		dryRun bool
	}{
		{"Real run", false},
		{"Dry run", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "unmounted", "library")
			lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG", creationTime: "2019-05-01T10:00:00Z", content: "a"})
			hooks := &fakeHooks{}

			_, err := newRunner(lib, hooks).ExecuteSync(context.Background(), newPlan(t, root, func(c *config.Config) {
				c.Runtime.DryRun = tc.dryRun
			}))
			if !errors.Is(err, syncerr.ErrIO) {
				t.Fatalf("expected ErrIO, but got %v", err)
			}
			if _, statErr := os.Stat(filepath.Dir(root)); !os.IsNotExist(statErr) {
				t.Errorf("expected nothing to be created, but stat returned %v", statErr)
			}
			if lib.searches.Load() != 0 || lib.downloads.Load() != 0 {
				t.Errorf("expected no remote calls, but got %d searches and %d downloads", lib.searches.Load(), lib.downloads.Load())
			}
			if len(hooks.pre) != 0 || len(hooks.post) != 0 {
				t.Errorf("expected no hooks to run, but got pre=%d post=%d", len(hooks.pre), len(hooks.post))
			}
		})
	}
}

func TestExecuteSync_UnsafeFilenamesFail(t *testing.T) {
	quietLogs(t)
	base := t.TempDir()
	root := filepath.Join(base, "library")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}
	lib := newFakeLibrary(t,
		remoteItem{id: "p1", filename: "../../escape.jpg", creationTime: "2019-05-01T10:00:00Z", content: "x"},
		remoteItem{id: "p2", filename: "nested/b.jpg", creationTime: "2019-05-01T10:00:00Z", content: "x"},
		remoteItem{id: "p3", filename: "ok.jpg", creationTime: "../2019", content: "fine"},
	)

	res, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, root, nil))
	if err != nil {
		t.Fatalf("ExecuteSync failed: %v", err)
	}
	if res.Failed != 2 || res.Downloaded != 1 {
		t.Errorf("expected 2 failed and 1 downloaded, but got %+v", res)
	}

	// Failures come back ordered by filename.
	failed := res.Failures()
	if len(failed) != 2 || failed[0].Item.ID != "p1" || failed[1].Item.ID != "p2" {
		t.Fatalf("expected failures p1 then p2, but got %+v", failed)
	}
	for _, o := range failed {
		if !errors.Is(o.Err, syncerr.ErrInvalidName) {
			t.Errorf("expected ErrInvalidName for %q, but got %v", o.Item.Filename, o.Err)
		}
	}

	if got := readFile(t, filepath.Join(root, "UNKNOWN", "ok.jpg")); got != "fine" {
		t.Errorf("expected a bad year to land under UNKNOWN, but got %q", got)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.jpg")); !os.IsNotExist(err) {
		t.Error("expected nothing written outside the root")
	}
	if lib.downloads.Load() != 1 {
		t.Errorf("expected one download request, but got %d", lib.downloads.Load())
	}
}

func TestExecuteSync_FatalErrors(t *testing.T) {
	quietLogs(t)

	t.Run("Catalog rejects token", func(t *testing.T) {
		lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG"})
		lib.searchStatus = http.StatusUnauthorized
		hooks := &fakeHooks{}

		_, err := newRunner(lib, hooks).ExecuteSync(context.Background(), newPlan(t, t.TempDir(), nil))
		if !errors.Is(err, syncerr.ErrAuth) {
			t.Fatalf("expected an auth error, but got %v", err)
		}
		if len(hooks.post) != 1 || hooks.post[0].Succeeded {
			t.Errorf("expected post hooks to run and see a failed sync, but got %+v", hooks.post)
		}
	})

	t.Run("Catalog server error", func(t *testing.T) {
		lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG"})
		lib.searchStatus = http.StatusInternalServerError

		_, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, t.TempDir(), nil))
		if !errors.Is(err, syncerr.ErrRemoteRequest) {
			t.Fatalf("expected a remote request error, but got %v", err)
		}
	})

	t.Run("No credentials", func(t *testing.T) {
		lib := newFakeLibrary(t)
		_, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, t.TempDir(), func(c *config.Config) {
			c.Auth.AccessToken = ""
		}))
		if !errors.Is(err, syncerr.ErrAuth) {
			t.Fatalf("expected an auth error, but got %v", err)
		}
		if lib.searches.Load() != 0 {
			t.Error("expected no catalog request without a token")
		}
	})

	t.Run("Pre-sync hook failure", func(t *testing.T) {
		lib := newFakeLibrary(t)
		hooks := &fakeHooks{preErr: errors.New("mount failed")}
		_, err := newRunner(lib, hooks).ExecuteSync(context.Background(), newPlan(t, t.TempDir(), nil))
		if err == nil || !strings.Contains(err.Error(), "pre-sync hook failed") {
			t.Fatalf("expected a pre-sync hook error, but got %v", err)
		}
		if lib.searches.Load() != 0 {
			t.Error("expected no catalog request after a failed pre-sync hook")
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newRunner(newFakeLibrary(t), &fakeHooks{}).ExecuteSync(ctx, newPlan(t, t.TempDir(), nil))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, but got %v", err)
		}
	})
}

func TestExecuteSync_SkipsWhenLocked(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	lock, err := lockfile.Acquire(context.Background(), root, "other", "other-run")
	if err != nil {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer lock.Release()

	lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG", content: "a"})
	res, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, root, nil))
	if err != nil {
		t.Fatalf("expected a graceful skip, but got %v", err)
	}
	if !res.Skipped {
		t.Error("expected the run to be skipped")
	}
	if lib.searches.Load() != 0 {
		t.Error("expected no catalog request while another run holds the lock")
	}
}

func TestExecuteSync_EmptyCatalogIsHint(t *testing.T) {
	quietLogs(t)
	_, err := newRunner(newFakeLibrary(t), &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, t.TempDir(), nil))
	if !hints.Is(err, engine.ErrNothingToSync) {
		t.Errorf("expected ErrNothingToSync hint, but got %v", err)
	}
}

func TestExecuteSync_RemovesStaleTempFiles(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	stale := filepath.Join(root, "2019", ".pgl-photosync-12345.tmp")
	createFile(t, stale, "partial")

	lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG", creationTime: "2019-05-01T10:00:00Z", content: "a"})
	res, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, root, nil))
	if err != nil {
		t.Fatalf("ExecuteSync failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected the stale temp file to be removed")
	}
	if res.Downloaded != 1 {
		t.Errorf("expected the temp file not to count as a library item, but got %+v", res)
	}
}

func TestExecuteSync_WritesSnapshot(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	lib := newFakeLibrary(t, remoteItem{id: "p1", filename: "A.JPG", creationTime: "2019-05-01T10:00:00Z", content: "a"})

	_, err := newRunner(lib, &fakeHooks{}).ExecuteSync(context.Background(), newPlan(t, root, func(c *config.Config) {
		c.Manifest.Snapshot = true
		c.Manifest.SnapshotFormat = "gzip"
	}))
	if err != nil {
		t.Fatalf("ExecuteSync failed: %v", err)
	}

	m, err := manifest.ReadSnapshot(filepath.Join(root, manifest.SnapshotBaseName+".json.gz"))
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if m.Len() != 1 || m.Files[0].RelPath != "2019/A.JPG" {
		t.Errorf("expected the snapshot to list 2019/A.JPG only, but got %+v", m.Files)
	}
}

func TestExecuteManifest(t *testing.T) {
	quietLogs(t)
	root := t.TempDir()
	createFile(t, filepath.Join(root, "2019", "A.JPG"), "a")
	createFile(t, filepath.Join(root, "UNKNOWN", "B.JPG"), "bb")
	out := filepath.Join(t.TempDir(), "manifest.json.zst")

	runner := engine.NewRunner(manifest.NewBuilder(), &fakeHooks{})
	m, err := runner.ExecuteManifest(context.Background(), root, &manifest.Plan{}, out, false)
	if err != nil {
		t.Fatalf("ExecuteManifest failed: %v", err)
	}
	if m.Len() != 2 || m.TotalSize() != 3 {
		t.Errorf("expected 2 files with 3 bytes, but got %d files with %d bytes", m.Len(), m.TotalSize())
	}
	back, err := manifest.ReadSnapshot(out)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if back.Len() != 2 {
		t.Errorf("expected 2 files in snapshot, but got %d", back.Len())
	}
}

func catalogBaseURL(lib *fakeLibrary) catalog.Option {
	return catalog.WithBaseURL(lib.srv.URL)
}

func TestExecuteManifest_MissingRoot(t *testing.T) {
	quietLogs(t)
	root := filepath.Join(t.TempDir(), "missing")

	runner := engine.NewRunner(manifest.NewBuilder(), &fakeHooks{})
	if _, err := runner.ExecuteManifest(context.Background(), root, &manifest.Plan{}, "", false); !errors.Is(err, syncerr.ErrIO) {
		t.Errorf("expected ErrIO for a missing root, but got %v", err)
	}
}
