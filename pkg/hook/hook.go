// Package hook runs user-configured shell commands before and after a sync.
// Commands see the run's context through PGL_PHOTOSYNC_* environment
// variables.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/paulschiretz/pgl-photosync/pkg/hints"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Stage names which side of the sync a command runs on.
type Stage string

const (
	PreSync  Stage = "pre-sync"
	PostSync Stage = "post-sync"
)

// RunInfo is exported to hook commands as environment variables.
type RunInfo struct {
	RunID           string
	DestinationRoot string
	DryRun          bool

	// Post-sync only.
	Succeeded      bool
	AlreadyCurrent int64
	Moved          int64
	Downloaded     int64
	Failed         int64
}

func (ri RunInfo) env(stage Stage) []string {
	env := []string{
		"PGL_PHOTOSYNC_STAGE=" + string(stage),
		"PGL_PHOTOSYNC_RUN_ID=" + ri.RunID,
		"PGL_PHOTOSYNC_DEST=" + ri.DestinationRoot,
		"PGL_PHOTOSYNC_DRY_RUN=" + strconv.FormatBool(ri.DryRun),
	}
	if stage == PostSync {
		env = append(env,
			"PGL_PHOTOSYNC_SUCCEEDED="+strconv.FormatBool(ri.Succeeded),
			"PGL_PHOTOSYNC_ALREADY_CURRENT="+strconv.FormatInt(ri.AlreadyCurrent, 10),
			"PGL_PHOTOSYNC_MOVED="+strconv.FormatInt(ri.Moved, 10),
			"PGL_PHOTOSYNC_DOWNLOADED="+strconv.FormatInt(ri.Downloaded, 10),
			"PGL_PHOTOSYNC_FAILED="+strconv.FormatInt(ri.Failed, 10),
		)
	}
	return env
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewHookExecutor creates an executor. Pass exec.CommandContext outside tests.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	return &HookExecutor{commandContext: commandContext}
}

// RunPreSync runs the pre-sync commands.
func (e *HookExecutor) RunPreSync(ctx context.Context, p *Plan, info RunInfo) error {
	return e.run(ctx, PreSync, p, p.PreSyncCommands, info)
}

// RunPostSync runs the post-sync commands.
func (e *HookExecutor) RunPostSync(ctx context.Context, p *Plan, info RunInfo) error {
	return e.run(ctx, PostSync, p, p.PostSyncCommands, info)
}

func (e *HookExecutor) run(ctx context.Context, stage Stage, p *Plan, commands []string, info RunInfo) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info("Running hook commands", "stage", stage, "count", len(commands))
	extraEnv := info.env(stage)

	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "stage", stage, "command", command)
			continue
		}
		plog.Info("Executing command", "stage", stage, "command", command)

		cmd := e.createCommand(ctx, command)
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, extraEnv...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("%s command '%s' failed: %w", stage, command, err)
			}
			plog.Warn("Hook command failed", "stage", stage, "command", command, "error", err)
		}
	}
	return nil
}
