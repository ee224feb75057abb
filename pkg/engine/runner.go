// Package engine runs a whole sync: lock, hooks, manifest, catalog and the
// bounded reconcile pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-photosync/pkg/auth"
	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/hints"
	"github.com/paulschiretz/pgl-photosync/pkg/hook"
	"github.com/paulschiretz/pgl-photosync/pkg/lockfile"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/metrics"
	"github.com/paulschiretz/pgl-photosync/pkg/planner"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/preflight"
	"github.com/paulschiretz/pgl-photosync/pkg/reconcile"
	"github.com/paulschiretz/pgl-photosync/pkg/sharded"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
	"github.com/paulschiretz/pgl-photosync/pkg/transfer"
	"github.com/paulschiretz/pgl-photosync/pkg/workpool"
)

// ErrNothingToSync is returned when the catalog listed no items at all.
var ErrNothingToSync = hints.New("catalog returned no items")

// ManifestBuilder scans the destination root.
type ManifestBuilder interface {
	Build(ctx context.Context, root string, p *manifest.Plan) (*manifest.Manifest, error)
}

// HookRunner runs the user's pre-sync and post-sync commands.
type HookRunner interface {
	RunPreSync(ctx context.Context, p *hook.Plan, info hook.RunInfo) error
	RunPostSync(ctx context.Context, p *hook.Plan, info hook.RunInfo) error
}

// Result summarizes a finished run.
type Result struct {
	RunID string
	// Skipped is set when another run held the destination lock.
	Skipped bool

	Pages          int
	AlreadyCurrent int64
	Moved          int64
	Downloaded     int64
	Failed         int64

	// Outcomes holds one entry per catalog item in catalog order.
	Outcomes []reconcile.Outcome

	// failures is filled from pool workers as items fail.
	failures *sharded.Map[reconcile.Outcome]
}

// Settled returns the number of items that reached a final outcome.
func (r *Result) Settled() int64 {
	return r.AlreadyCurrent + r.Moved + r.Downloaded + r.Failed
}

// Failures returns the failed outcomes ordered by filename.
func (r *Result) Failures() []reconcile.Outcome {
	if r.failures == nil {
		return nil
	}
	keys := r.failures.SortedKeys()
	failed := make([]reconcile.Outcome, 0, len(keys))
	for _, k := range keys {
		if o, ok := r.failures.Load(k); ok {
			failed = append(failed, o)
		}
	}
	return failed
}

func (r *Result) recordFailure(o reconcile.Outcome) {
	key := o.Item.Filename + "\x00" + o.Item.ID
	if o.Item.Filename == "" && o.Item.ID == "" {
		key = "\x00" + uuid.NewString()
	}
	r.failures.Store(key, o)
}

type Runner struct {
	builder ManifestBuilder
	hooks   HookRunner

	authOpts     []auth.Option
	catalogOpts  []catalog.Option
	transferOpts []transfer.Option
}

// Option customizes a Runner.
type Option func(*Runner)

// WithAuthOptions is passed through to the catalog client's token provider.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(r *Runner) { r.authOpts = append(r.authOpts, opts...) }
}

// WithCatalogOptions is passed through to catalog.NewClient.
func WithCatalogOptions(opts ...catalog.Option) Option {
	return func(r *Runner) { r.catalogOpts = append(r.catalogOpts, opts...) }
}

// WithTransferOptions is passed through to transfer.NewExecutor.
func WithTransferOptions(opts ...transfer.Option) Option {
	return func(r *Runner) { r.transferOpts = append(r.transferOpts, opts...) }
}

func NewRunner(builder ManifestBuilder, hooks HookRunner, opts ...Option) *Runner {
	r := &Runner{builder: builder, hooks: hooks}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteSync performs one sync run. Per-item failures are part of the
// returned Result; the error is reserved for fatal conditions.
func (r *Runner) ExecuteSync(ctx context.Context, p *planner.SyncPlan) (res *Result, retErr error) {
	// Check for cancellation at the very beginning.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res = &Result{RunID: newRunID(), failures: sharded.NewMap[reconcile.Outcome](sharded.DefaultShards)}
	root := p.Destination

	rootExists, err := preflight.Run(root, p.Preflight)
	if err != nil {
		return nil, err
	}
	// Sync never creates the root; init does.
	if !rootExists {
		return nil, syncerr.IO("open destination root", root, fmt.Errorf("%w (run init to create it)", os.ErrNotExist))
	}

	releaseLock, err := r.acquireDestinationLock(ctx, root, res.RunID)
	if err != nil {
		return nil, err
	}
	if releaseLock == nil {
		res.Skipped = true
		return res, nil // Lock was already held, exit gracefully.
	}
	defer releaseLock()

	if !p.DryRun {
		removeStaleTempFiles(ctx, root)
	}

	info := hook.RunInfo{RunID: res.RunID, DestinationRoot: root, DryRun: p.DryRun}

	// --- Pre-Sync Hooks ---
	if err := r.hooks.RunPreSync(ctx, p.Hooks, info); err != nil && !hints.IsHint(err) {
		errMsg := "pre-sync hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-sync hook canceled"
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}

	// --- Post-Sync Hooks (deferred) ---
	// These run even if the sync fails, and see how far it got.
	defer func() {
		post := info
		post.Succeeded = retErr == nil || hints.IsHint(retErr)
		post.AlreadyCurrent, post.Moved, post.Downloaded, post.Failed = res.AlreadyCurrent, res.Moved, res.Downloaded, res.Failed
		if err := r.hooks.RunPostSync(ctx, p.Hooks, post); err != nil && !hints.IsHint(err) {
			if errors.Is(err, context.Canceled) {
				plog.Info("post-sync hooks skipped due to cancellation.")
			} else {
				plog.Warn("post-sync hook failed", "error", err)
			}
		}
	}()

	plog.Info("Starting sync", "destination", root, "run_id", res.RunID, "dry_run", p.DryRun)

	m, err := r.builder.Build(ctx, root, p.Manifest)
	if err != nil {
		return res, fmt.Errorf("failed to build manifest: %w", err)
	}
	logManifest(m)

	catalogOpts := append([]catalog.Option{catalog.WithAuthOptions(r.authOpts...)}, r.catalogOpts...)
	client := catalog.NewClient(p.Credentials, append(catalogOpts, catalog.WithRateLimit(p.RateLimit))...)
	if err := client.Authorize(ctx); err != nil {
		return res, fmt.Errorf("failed to obtain access token: %w", err)
	}

	var met metrics.Metrics = &metrics.NoopMetrics{}
	if p.Metrics {
		met = &metrics.SyncMetrics{}
	}
	if p.ProgressInterval > 0 {
		met.StartProgress("Sync progress", p.ProgressInterval)
	}

	executor := transfer.NewExecutor(p.Transfer, met, r.transferOpts...)
	reconciler := reconcile.New(m, p.Reconcile, executor)

	pool := workpool.New[reconcile.Outcome](p.Concurrency, workpool.WithResultHook(func(wr workpool.Result[reconcile.Outcome]) {
		o := settle(wr)
		switch o.Kind {
		case reconcile.AlreadyCurrent:
			met.AddAlreadyCurrent(1)
		case reconcile.Moved:
			met.AddMoved(1)
		case reconcile.Downloaded:
			met.AddDownloaded(1)
		default:
			met.AddFailed(1)
			res.recordFailure(o)
		}
	}))

	// Decisions are made here, one item at a time, so claims follow catalog
	// order. Only Apply runs on the pool.
	it := client.Search(p.Filter)
	for it.Next(ctx) {
		item := it.Item()
		met.AddItemsSeen(1)
		d := reconciler.Decide(item)
		task := func(ctx context.Context) (reconcile.Outcome, error) {
			return reconciler.Apply(ctx, d), nil
		}
		if err := pool.Submit(ctx, task); err != nil {
			break
		}
	}
	results := pool.Wait()
	met.StopProgress()

	res.Pages = it.Pages()
	res.Outcomes = make([]reconcile.Outcome, len(results))
	for i, wr := range results {
		o := settle(wr)
		res.Outcomes[i] = o
		switch o.Kind {
		case reconcile.AlreadyCurrent:
			res.AlreadyCurrent++
		case reconcile.Moved:
			res.Moved++
		case reconcile.Downloaded:
			res.Downloaded++
		default:
			res.Failed++
		}
	}

	logFailures(res)
	if p.Metrics {
		met.LogSummary("Sync finished")
	}

	if err := it.Err(); err != nil {
		return res, fmt.Errorf("failed to list catalog: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	plog.Info("Sync completed",
		"items", len(res.Outcomes),
		"current", res.AlreadyCurrent,
		"moved", res.Moved,
		"downloaded", res.Downloaded,
		"failed", res.Failed,
	)

	if p.Snapshot {
		r.writeSnapshot(ctx, p)
	}

	if len(res.Outcomes) == 0 {
		return res, ErrNothingToSync
	}
	return res, nil
}

// ExecuteManifest scans root and, when out is set, writes a snapshot of the
// result there.
func (r *Runner) ExecuteManifest(ctx context.Context, root string, p *manifest.Plan, out string, dryRun bool) (*manifest.Manifest, error) {
	exists, err := preflight.Run(root, &preflight.Plan{RootAccessible: true})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, syncerr.IO("scan destination root", root, os.ErrNotExist)
	}

	m, err := r.builder.Build(ctx, root, p)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest: %w", err)
	}
	logManifest(m)

	if out == "" {
		return m, nil
	}
	if dryRun {
		plog.Info("[DRY RUN] Would write manifest snapshot", "path", out)
		return m, nil
	}
	if err := manifest.WriteSnapshot(out, m); err != nil {
		return m, fmt.Errorf("failed to write manifest snapshot: %w", err)
	}
	plog.Info("Manifest snapshot written", "path", out, "files", m.Len())
	return m, nil
}

// writeSnapshot records the post-sync state of the destination. Failing to
// write it does not fail the run.
func (r *Runner) writeSnapshot(ctx context.Context, p *planner.SyncPlan) {
	path := filepath.Join(p.Destination, manifest.SnapshotBaseName+p.SnapshotFormat.Ext())
	if p.DryRun {
		plog.Info("[DRY RUN] Would write manifest snapshot", "path", path)
		return
	}
	m, err := r.builder.Build(ctx, p.Destination, p.Manifest)
	if err != nil {
		plog.Warn("Could not rescan destination for snapshot", "error", err)
		return
	}
	if err := manifest.WriteSnapshot(path, m); err != nil {
		plog.Warn("Could not write manifest snapshot", "path", path, "error", err)
		return
	}
	plog.Info("Manifest snapshot written", "path", path, "files", m.Len())
}

// acquireDestinationLock takes the lock file in the destination root.
// It returns a nil release function if another run holds the lock.
func (r *Runner) acquireDestinationLock(ctx context.Context, root, runID string) (func(), error) {
	plog.Debug("Attempting to acquire lock", "path", root)
	lock, err := lockfile.Acquire(ctx, root, buildinfo.AppID, runID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("A sync is already running for this destination, skipping run.", "details", lockErr.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock.Release, nil
}

// settle folds a pool-level error (panic, cancellation before start) into
// a Failed outcome.
func settle(wr workpool.Result[reconcile.Outcome]) reconcile.Outcome {
	if wr.Err != nil {
		o := wr.Value
		o.Kind = reconcile.Failed
		o.Err = wr.Err
		return o
	}
	return wr.Value
}

func logManifest(m *manifest.Manifest) {
	plog.Info("Local manifest built", "root", m.Root, "files", m.Len(), "size", humanize.IBytes(uint64(m.TotalSize())))
	for name, entries := range m.Duplicates() {
		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.RelPath
		}
		plog.Warn("Duplicate file name in destination", "name", name, "paths", paths)
	}
}

func logFailures(res *Result) {
	for _, o := range res.Failures() {
		kind := "unknown"
		if k := syncerr.KindOf(o.Err); k != nil {
			kind = k.Error()
		}
		plog.Warn("Item failed", "file", o.Item.Filename, "id", o.Item.ID, "kind", kind, "error", o.Err)
	}
}

// removeStaleTempFiles deletes partial downloads left behind by a run that
// was killed. It must only run while holding the lock.
func removeStaleTempFiles(ctx context.Context, root string) {
	removed := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(transfer.TempPattern, d.Name()); !ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			plog.Warn("Could not remove stale temp file", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if removed > 0 {
		plog.Info("Removed stale temp files", "count", removed)
	}
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
