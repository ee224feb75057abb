package cmd

import (
	"context"
	"os"
	"os/exec"

	"github.com/paulschiretz/pgl-photosync/pkg/engine"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/hook"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/planner"
)

// RunManifest handles the 'manifest' command: scan the destination root
// and optionally write a snapshot of what was found.
func RunManifest(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Manifest, flagMap, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := applyLogging(runConfig); err != nil {
		return err
	}

	out, _ := flagMap["out"].(string)
	if out != "" {
		// Fail before scanning if the extension is unusable.
		if _, err := manifest.FormatFromPath(out); err != nil {
			return err
		}
	}

	runner := engine.NewRunner(manifest.NewBuilder(), hook.NewHookExecutor(exec.CommandContext))
	_, err = runner.ExecuteManifest(ctx, runConfig.Destination, planner.ManifestPlan(runConfig), out, runConfig.Runtime.DryRun)
	return err
}
