package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/lockfile"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/preflight"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	dest := config.LookupDestination(flagMap, os.LookupEnv)
	if dest == "" {
		return fmt.Errorf("the -dest flag or %s is required for the init operation", config.EnvDestDir)
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("could not determine absolute destination path for %s: %w", dest, err)
	}

	var baseConfig config.Config

	// Check if init-default is set
	initDefault := false
	if v, ok := flagMap["default"]; ok {
		initDefault = v.(bool)
	}

	if initDefault {
		// Check for force flag to bypass confirmation
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}

		if !force {
			absConfigFilePath := filepath.Join(absDest, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		baseConfig, err = config.Load(absDest)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}
	baseConfig.Destination = absDest

	// Create a config from base merged with user flags. The environment is
	// left out so that per-machine settings do not leak into the file.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.", "path", filepath.Join(runConfig.Destination, config.ConfigFileName))
		return nil
	}

	// init is the only command that creates the destination root.
	rootPlan := &preflight.Plan{RootAccessible: true, EnsureRootExists: true, RootWritable: true}
	if _, err := preflight.Run(runConfig.Destination, rootPlan); err != nil {
		return fmt.Errorf("failed to prepare destination root: %w", err)
	}

	// Ensure no sync runs while the file is rewritten.
	lock, err := lockfile.Acquire(ctx, runConfig.Destination, buildinfo.AppID+"-init", uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to acquire lock on destination root: %w", err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" destination successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
