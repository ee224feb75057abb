// Package reconcile compares remote items with the local manifest and
// brings each item to its planned location.
//
// Decisions are made one item at a time, in catalog order, on a single
// goroutine. Applying a decision may happen concurrently.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/layout"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// Executor performs the filesystem side of a decision.
type Executor interface {
	EnsureDir(dir string) error
	Move(from, to string) error
	Download(ctx context.Context, item catalog.MediaItem, to string) error
}

// Plan holds the per-run settings the reconciler needs.
type Plan struct {
	Root   string
	Scheme layout.Scheme
}

// Classify decides what item needs given only the manifest. It ignores
// what other items in the same run have claimed.
func Classify(m *manifest.Manifest, item catalog.MediaItem, planned string) Decision {
	return classify(m, item, planned, nil)
}

func classify(m *manifest.Manifest, item catalog.MediaItem, planned string, usable func(manifest.Entry) bool) Decision {
	d := Decision{Item: item, To: planned, Action: ActionDownload}

	e, ok := m.FindFunc(item.Filename, planned, usable)
	switch {
	case !ok:
	case util.SamePath(e.FullPath, planned):
		d.Action = ActionNone
	default:
		d.Action = ActionMove
		d.From = e.FullPath
	}
	return d
}

// Reconciler holds one run's claim bookkeeping. Decide must only be
// called from one goroutine; Apply may be called concurrently.
type Reconciler struct {
	manifest *manifest.Manifest
	plan     Plan
	exec     Executor

	// destinations maps claimed destination keys to the claiming item's id.
	destinations map[string]string
	// entries holds manifest paths already matched to an item.
	entries map[string]struct{}
	// moveSources holds paths that a pending move will vacate.
	moveSources map[string]struct{}
}

// New creates a reconciler for one run.
func New(m *manifest.Manifest, p Plan, exec Executor) *Reconciler {
	return &Reconciler{
		manifest:     m,
		plan:         p,
		exec:         exec,
		destinations: make(map[string]string),
		entries:      make(map[string]struct{}),
		moveSources:  make(map[string]struct{}),
	}
}

func pathKey(p string) string {
	p = filepath.Clean(p)
	if util.IsHostCaseInsensitiveFS() {
		return strings.ToLower(p)
	}
	return p
}

// Decide plans the action for item and records its claims.
//
// Items whose filename is not a single path element fail with
// ErrInvalidName and claim nothing. A manifest entry serves at most one item. A destination path is
// claimed by the first item planned onto it; later items planned onto a
// claimed path, or onto a path a pending move is about to vacate, fail
// with ErrPathCollision instead of overwriting.
func (r *Reconciler) Decide(item catalog.MediaItem) Decision {
	if err := layout.CheckFilename(item.Filename); err != nil {
		return Decision{Action: ActionFail, Item: item, Err: err}
	}
	planned := layout.Destination(r.plan.Root, r.plan.Scheme, item)
	key := pathKey(planned)

	if owner, ok := r.destinations[key]; ok {
		return Decision{Action: ActionFail, Item: item, To: planned,
			Err: syncerr.New(syncerr.ErrPathCollision, "plan destination", planned, fmt.Errorf("already claimed by item %s", owner))}
	}
	if _, ok := r.moveSources[key]; ok {
		return Decision{Action: ActionFail, Item: item, To: planned,
			Err: syncerr.New(syncerr.ErrPathCollision, "plan destination", planned, fmt.Errorf("path is being vacated by a move in this run"))}
	}
	r.destinations[key] = item.ID

	d := classify(r.manifest, item, planned, func(e manifest.Entry) bool {
		_, taken := r.entries[pathKey(e.FullPath)]
		return !taken
	})
	switch d.Action {
	case ActionNone:
		r.entries[key] = struct{}{}
	case ActionMove:
		src := pathKey(d.From)
		r.entries[src] = struct{}{}
		r.moveSources[src] = struct{}{}
	}
	return d
}

// Apply carries out d. Executor errors become a Failed outcome; they are
// never returned.
func (r *Reconciler) Apply(ctx context.Context, d Decision) Outcome {
	out := Outcome{Item: d.Item, To: d.To, From: d.From}

	fail := func(err error) Outcome {
		out.Kind = Failed
		out.Err = err
		return out
	}

	switch d.Action {
	case ActionNone:
		plog.Notice("CURRENT", "file", d.Item.Filename, "path", d.To)
		out.Kind = AlreadyCurrent
		return out

	case ActionMove:
		if err := r.exec.EnsureDir(filepath.Dir(d.To)); err != nil {
			return fail(err)
		}
		if err := r.exec.Move(d.From, d.To); err != nil {
			return fail(err)
		}
		out.Kind = Moved
		return out

	case ActionDownload:
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := r.exec.EnsureDir(filepath.Dir(d.To)); err != nil {
			return fail(err)
		}
		if err := r.exec.Download(ctx, d.Item, d.To); err != nil {
			return fail(err)
		}
		out.Kind = Downloaded
		return out

	case ActionFail:
		return fail(d.Err)

	default:
		return fail(fmt.Errorf("unknown action %v", d.Action))
	}
}

// Reconcile decides and applies in one step.
func (r *Reconciler) Reconcile(ctx context.Context, item catalog.MediaItem) Outcome {
	return r.Apply(ctx, r.Decide(item))
}
