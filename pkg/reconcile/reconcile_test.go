package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/layout"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/transfer"
)

func createFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

func buildManifest(t *testing.T, root string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.NewBuilder().Build(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("failed to build manifest: %v", err)
	}
	return m
}

// fakeExecutor records calls and can be told to fail.
type fakeExecutor struct {
	mu          sync.Mutex
	moves       [][2]string
	downloads   []string
	moveErr     error
	downloadErr error
}

func (f *fakeExecutor) EnsureDir(string) error { return nil }

func (f *fakeExecutor) Move(from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, [2]string{from, to})
	return f.moveErr
}

func (f *fakeExecutor) Download(_ context.Context, _ catalog.MediaItem, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, to)
	return f.downloadErr
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "2022", "current.jpg"), "c")
	createFile(t, filepath.Join(root, "misplaced.JPG"), "m")
	m := buildManifest(t, root)

	testCases := []struct {
		name       string
		item       catalog.MediaItem
		wantAction Action
		wantFrom   string
	}{
		{
			name:       "At planned path",
			item:       catalog.MediaItem{Filename: "current.jpg", CreationTime: "2022-01-01T00:00:00Z"},
			wantAction: ActionNone,
		},
		{
			name:       "Elsewhere with different case",
			item:       catalog.MediaItem{Filename: "MISPLACED.jpg", CreationTime: "2021-01-01T00:00:00Z"},
			wantAction: ActionMove,
			wantFrom:   filepath.Join(root, "misplaced.JPG"),
		},
		{
			name:       "Absent",
			item:       catalog.MediaItem{Filename: "new.jpg", CreationTime: "2021-01-01T00:00:00Z"},
			wantAction: ActionDownload,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			planned := layout.Destination(root, layout.ByYear, tc.item)
			d := Classify(m, tc.item, planned)
			if d.Action != tc.wantAction {
				t.Errorf("expected action %v, but got %v", tc.wantAction, d.Action)
			}
			if d.From != tc.wantFrom {
				t.Errorf("expected from %q, but got %q", tc.wantFrom, d.From)
			}
			if d.To != planned {
				t.Errorf("expected to %q, but got %q", planned, d.To)
			}
		})
	}
}

func TestReconcile_EndToEnd(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "A.JPG"), "local-a")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	plan := Plan{Root: root, Scheme: layout.ByYear}
	itemA := catalog.MediaItem{ID: "a", Filename: "A.JPG", CreationTime: "2022-06-01T12:00:00Z", BaseURL: srv.URL + "/a"}
	itemB := catalog.MediaItem{ID: "b", Filename: "B.JPG", BaseURL: srv.URL + "/b"}

	// First run: A is misplaced, B is missing.
	r := New(buildManifest(t, root), plan, transfer.NewExecutor(nil, nil))
	outA := r.Reconcile(context.Background(), itemA)
	outB := r.Reconcile(context.Background(), itemB)

	if outA.Kind != Moved || outA.From != filepath.Join(root, "A.JPG") || outA.To != filepath.Join(root, "2022", "A.JPG") {
		t.Fatalf("expected A to be moved into 2022, but got %+v", outA)
	}
	if content, _ := os.ReadFile(filepath.Join(root, "2022", "A.JPG")); string(content) != "local-a" {
		t.Errorf("expected the local bytes to be moved, but got %q", content)
	}
	if outB.Kind != Downloaded || outB.To != filepath.Join(root, "UNKNOWN", "B.JPG") {
		t.Fatalf("expected B to be downloaded into UNKNOWN, but got %+v", outB)
	}

	// Second run over the result: everything is current.
	r = New(buildManifest(t, root), plan, transfer.NewExecutor(nil, nil))
	for _, item := range []catalog.MediaItem{itemA, itemB} {
		if out := r.Reconcile(context.Background(), item); out.Kind != AlreadyCurrent {
			t.Errorf("expected %s to be current on the second run, but got %+v", item.Filename, out)
		}
	}
}

func TestReconcile_FailuresBecomeOutcomes(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "a.jpg"), "a")
	m := buildManifest(t, root)
	plan := Plan{Root: root, Scheme: layout.ByYear}

	t.Run("Download error", func(t *testing.T) {
		exec := &fakeExecutor{downloadErr: syncerr.Download("download", "u", 500, nil)}
		out := New(m, plan, exec).Reconcile(context.Background(), catalog.MediaItem{ID: "1", Filename: "x.jpg"})
		if out.Kind != Failed || !errors.Is(out.Err, syncerr.ErrDownload) {
			t.Errorf("expected Failed with ErrDownload, but got %+v", out)
		}
	})

	t.Run("Move error", func(t *testing.T) {
		exec := &fakeExecutor{moveErr: syncerr.FileSystem("move", "p", os.ErrPermission)}
		out := New(m, plan, exec).Reconcile(context.Background(), catalog.MediaItem{ID: "1", Filename: "a.jpg", CreationTime: "2020"})
		if out.Kind != Failed || !errors.Is(out.Err, syncerr.ErrFileSystem) {
			t.Errorf("expected Failed with ErrFileSystem, but got %+v", out)
		}
	})
}

func TestDecide_Claims(t *testing.T) {
	t.Run("Second item on the same destination collides", func(t *testing.T) {
		root := t.TempDir()
		r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, &fakeExecutor{})

		first := r.Decide(catalog.MediaItem{ID: "1", Filename: "IMG.JPG", CreationTime: "2022"})
		second := r.Decide(catalog.MediaItem{ID: "2", Filename: "IMG.JPG", CreationTime: "2022-12-31"})
		if first.Action != ActionDownload {
			t.Errorf("expected first item to download, but got %v", first.Action)
		}
		if second.Action != ActionFail || !errors.Is(second.Err, syncerr.ErrPathCollision) {
			t.Errorf("expected collision for the second item, but got %+v", second)
		}
	})

	t.Run("A matched entry serves only one item", func(t *testing.T) {
		root := t.TempDir()
		createFile(t, filepath.Join(root, "IMG.JPG"), "x")
		r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, &fakeExecutor{})

		first := r.Decide(catalog.MediaItem{ID: "1", Filename: "IMG.JPG", CreationTime: "2021"})
		second := r.Decide(catalog.MediaItem{ID: "2", Filename: "IMG.JPG", CreationTime: "2022"})
		if first.Action != ActionMove {
			t.Errorf("expected first item to claim the local file, but got %v", first.Action)
		}
		if second.Action != ActionDownload {
			t.Errorf("expected second item to download, but got %v", second.Action)
		}
	})

	t.Run("Pending move source cannot be a destination", func(t *testing.T) {
		root := t.TempDir()
		createFile(t, filepath.Join(root, "2022", "IMG.JPG"), "x")
		r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, &fakeExecutor{})

		first := r.Decide(catalog.MediaItem{ID: "1", Filename: "IMG.JPG", CreationTime: "2021"})
		second := r.Decide(catalog.MediaItem{ID: "2", Filename: "IMG.JPG", CreationTime: "2022"})
		if first.Action != ActionMove {
			t.Fatalf("expected first item to move the local file, but got %v", first.Action)
		}
		if second.Action != ActionFail || !errors.Is(second.Err, syncerr.ErrPathCollision) {
			t.Errorf("expected collision for the vacated path, but got %+v", second)
		}
	})

	t.Run("Current item keeps its file", func(t *testing.T) {
		root := t.TempDir()
		createFile(t, filepath.Join(root, "2022", "IMG.JPG"), "x")
		r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, &fakeExecutor{})

		first := r.Decide(catalog.MediaItem{ID: "1", Filename: "IMG.JPG", CreationTime: "2022"})
		second := r.Decide(catalog.MediaItem{ID: "2", Filename: "IMG.JPG", CreationTime: "2021"})
		if first.Action != ActionNone {
			t.Errorf("expected first item to be current, but got %v", first.Action)
		}
		if second.Action != ActionDownload {
			t.Errorf("expected second item to download rather than steal the file, but got %v", second.Action)
		}
	})

	t.Run("Duplicate local names prefer the planned path", func(t *testing.T) {
		root := t.TempDir()
		createFile(t, filepath.Join(root, "2020", "IMG.JPG"), "old")
		createFile(t, filepath.Join(root, "2022", "IMG.JPG"), "new")
		r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, &fakeExecutor{})

		d := r.Decide(catalog.MediaItem{ID: "1", Filename: "IMG.JPG", CreationTime: "2022"})
		if d.Action != ActionNone {
			t.Errorf("expected the copy at the planned path to count as current, but got %+v", d)
		}
	})
}

func TestReconcile_UnsafeFilenames(t *testing.T) {
	testCases := []struct {
		name     string
		filename string
	}{
		{"Traversal", "../../escape.jpg"},
		{"Empty", ""},
		{"Parent directory", ".."},
		{"Current directory", "."},
		{"Nested path", "a/b.jpg"},
		{"Absolute path", "/tmp/evil.jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			exec := &fakeExecutor{}
			r := New(buildManifest(t, root), Plan{Root: root, Scheme: layout.ByYear}, exec)

			item := catalog.MediaItem{ID: "1", Filename: tc.filename, CreationTime: "2022-01-01T00:00:00Z"}
			d := r.Decide(item)
			if d.Action != ActionFail {
				t.Fatalf("expected ActionFail, but got %v", d.Action)
			}
			if !errors.Is(d.Err, syncerr.ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, but got %v", d.Err)
			}

			out := r.Apply(context.Background(), d)
			if out.Kind != Failed {
				t.Errorf("expected Failed outcome, but got %v", out.Kind)
			}
			if len(exec.moves) != 0 || len(exec.downloads) != 0 {
				t.Errorf("expected no executor calls, but got moves=%v downloads=%v", exec.moves, exec.downloads)
			}

			// A rejected item claims nothing, so a valid item can still use the year directory.
			ok := r.Decide(catalog.MediaItem{ID: "2", Filename: "ok.jpg", CreationTime: "2022"})
			if ok.Action != ActionDownload {
				t.Errorf("expected the valid item to download, but got %v", ok.Action)
			}
		})
	}
}
