package cmd

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/engine"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/hints"
	"github.com/paulschiretz/pgl-photosync/pkg/hook"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/planner"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

// RunSync handles the logic for the 'sync' command.
func RunSync(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Sync, flagMap, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := applyLogging(runConfig); err != nil {
		return err
	}
	runConfig.LogSummary()

	runner := engine.NewRunner(
		manifest.NewBuilder(),
		hook.NewHookExecutor(exec.CommandContext),
	)

	syncPlan, err := planner.GenerateSyncPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	res, err := runner.ExecuteSync(ctx, syncPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		if hints.IsHint(err) {
			plog.Info(buildinfo.Name+" finished, nothing to do.", "reason", err, "duration", duration)
			return nil
		}
		return err // The error will be logged with full details by main()
	}
	if res.Skipped {
		return nil
	}
	if res.Failed > 0 {
		plog.Warn(buildinfo.Name+" finished with failed items. They are retried on the next run.", "failed", res.Failed, "duration", duration)
		return nil
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}
