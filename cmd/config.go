package cmd

import (
	"fmt"

	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

// Log files rotate at this size and keep this many old copies.
const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

// loadRunConfig resolves the destination root, loads its config file and
// overlays the environment and then the flags.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}, lookup func(string) (string, bool)) (config.Config, error) {
	dest := config.LookupDestination(flagMap, lookup)
	if dest == "" {
		return config.Config{}, fmt.Errorf("the -dest flag or %s is required for the %s command", config.EnvDestDir, command)
	}

	// Load config from the destination root, or use defaults if not found.
	loadedConfig, err := config.Load(dest)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from destination: %w", err)
	}

	envConfig, err := config.ApplyEnv(loadedConfig, lookup)
	if err != nil {
		return config.Config{}, err
	}

	runConfig := config.MergeConfigWithFlags(command, envConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}
	return runConfig, nil
}

// applyLogging sets the global log level and attaches the log file, if any.
func applyLogging(c config.Config) error {
	plog.SetLevel(plog.LevelFromString(c.LogLevel))
	if c.LogFile == "" {
		return nil
	}
	if err := plog.EnableFileLogging(c.LogFile, logFileMaxSizeMB, logFileMaxBackups); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	return nil
}
