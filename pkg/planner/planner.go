package planner

import (
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-photosync/pkg/auth"
	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/hook"
	"github.com/paulschiretz/pgl-photosync/pkg/layout"
	"github.com/paulschiretz/pgl-photosync/pkg/lockfile"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/preflight"
	"github.com/paulschiretz/pgl-photosync/pkg/reconcile"
	"github.com/paulschiretz/pgl-photosync/pkg/transfer"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// systemExcludeFilePatterns are files the tool itself keeps in the
// destination root. They must never be mistaken for library items.
var systemExcludeFilePatterns = []string{
	lockfile.FileName,
	lockfile.TempPattern,
	config.ConfigFileName,
	manifest.SnapshotBaseName + ".*",
	transfer.TempPattern,
	preflight.WriteTestPattern,
}

// SyncPlan is everything the engine needs for one sync run.
type SyncPlan struct {
	DryRun           bool
	Metrics          bool
	ProgressInterval time.Duration

	Destination string
	Concurrency int
	RateLimit   float64

	Snapshot       bool
	SnapshotFormat manifest.SnapshotFormat

	Credentials auth.Credentials

	Filter    catalog.Filter
	Preflight *preflight.Plan
	Manifest  *manifest.Plan
	Reconcile reconcile.Plan
	Transfer  *transfer.Plan
	Hooks     *hook.Plan
}

// ManifestPlan builds the scan settings shared by sync and the manifest command.
func ManifestPlan(cfg config.Config) *manifest.Plan {
	return &manifest.Plan{
		ExcludeFiles: util.MergeAndDeduplicate(systemExcludeFilePatterns, cfg.Manifest.ExcludeFiles()),
		ExcludeDirs:  cfg.Manifest.ExcludeDirs(),
	}
}

// GenerateSyncPlan turns a validated config into a SyncPlan.
func GenerateSyncPlan(cfg config.Config) (*SyncPlan, error) {
	if cfg.Destination == "" {
		return nil, fmt.Errorf("destination root cannot be empty")
	}

	filter, err := catalog.NewFilter(cfg.Filters.MediaType, cfg.Filters.StartDate, cfg.Filters.EndDate)
	if err != nil {
		return nil, err
	}

	scheme, err := layout.ParseScheme(cfg.Organization)
	if err != nil {
		return nil, err
	}

	snapshotFormat, err := manifest.ParseSnapshotFormat(cfg.Manifest.SnapshotFormat)
	if err != nil {
		return nil, err
	}

	dryRun := cfg.Runtime.DryRun

	return &SyncPlan{
		DryRun:           dryRun,
		Metrics:          cfg.Engine.Metrics,
		ProgressInterval: time.Duration(cfg.Engine.ProgressIntervalSeconds) * time.Second,

		Destination: cfg.Destination,
		Concurrency: cfg.Engine.Concurrency,
		RateLimit:   cfg.Engine.RateLimit,

		Snapshot:       cfg.Manifest.Snapshot,
		SnapshotFormat: snapshotFormat,

		Credentials: cfg.Auth,

		Filter: filter,
		Preflight: &preflight.Plan{
			RootAccessible:   true,
			EnsureRootExists: false, // Only init creates the root.
			RootWritable:     true,
			DryRun:           dryRun,
		},
		Manifest: ManifestPlan(cfg),
		Reconcile: reconcile.Plan{
			Root:   cfg.Destination,
			Scheme: scheme,
		},
		Transfer: &transfer.Plan{
			DryRun:       dryRun,
			BufferSizeKB: int64(cfg.Engine.BufferSizeKB),
			Timeout:      time.Duration(cfg.Engine.DownloadTimeoutSeconds) * time.Second,
		},
		Hooks: &hook.Plan{
			Enabled:          cfg.Hooks.Enabled,
			PreSyncCommands:  cfg.Hooks.PreSync,
			PostSyncCommands: cfg.Hooks.PostSync,
			DryRun:           dryRun,
			FailFast:         cfg.Hooks.FailFast,
		},
	}, nil
}
