package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/auth"
	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/catalog"
	"github.com/paulschiretz/pgl-photosync/pkg/flagparse"
	"github.com/paulschiretz/pgl-photosync/pkg/layout"
	"github.com/paulschiretz/pgl-photosync/pkg/manifest"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-photosync.config.json"

// Environment variables read by ApplyEnv.
const (
	EnvDestDir      = "GOOGLE_PHOTOS_DEST_DIR"
	EnvConcurrency  = "GOOGLE_PHOTOS_CONCURRENCY"
	EnvMediaType    = "GOOGLE_PHOTOS_MEDIA_TYPE"
	EnvStartDate    = "GOOGLE_PHOTOS_START_DATE"
	EnvEndDate      = "GOOGLE_PHOTOS_END_DATE"
	EnvOrganization = "GOOGLE_PHOTOS_ORGANIZATION"
	EnvClientID     = "GOOGLE_PHOTOS_CLIENT_ID"
	EnvClientSecret = "GOOGLE_PHOTOS_CLIENT_SECRET"
	EnvRefreshToken = "GOOGLE_PHOTOS_REFRESH_TOKEN"
	EnvAccessToken  = "GOOGLE_PHOTOS_ACCESS_TOKEN"
	EnvLogLevel     = "PGL_PHOTOSYNC_LOG_LEVEL"
)

type FiltersConfig struct {
	MediaType string `json:"mediaType"`
	// StartDate and EndDate are YYYY-MM-DD. Set both or neither.
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type SyncEngineConfig struct {
	Metrics                 bool    `json:"metrics"`
	Concurrency             int     `json:"concurrency"`
	BufferSizeKB            int     `json:"bufferSizeKB" comment:"Size of the copy buffer in kilobytes used per download. Default is 256 (256KB)."`
	DownloadTimeoutSeconds  int     `json:"downloadTimeoutSeconds" comment:"Upper bound for a single download. 0 means no limit."`
	RateLimit               float64 `json:"rateLimit" comment:"Maximum catalog page requests per second. 0 means unlimited."`
	ProgressIntervalSeconds int     `json:"progressIntervalSeconds"`
}

type ManifestConfig struct {
	DefaultExcludeFiles []string `json:"defaultExcludeFiles,omitempty"`
	DefaultExcludeDirs  []string `json:"defaultExcludeDirs,omitempty"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	UserExcludeFiles []string `json:"userExcludeFiles"`
	UserExcludeDirs  []string `json:"userExcludeDirs"`
	// Snapshot writes a manifest snapshot into the destination root after each sync.
	Snapshot       bool   `json:"snapshot"`
	SnapshotFormat string `json:"snapshotFormat"`
}

type SyncHooksConfig struct {
	Enabled  bool `json:"enabled"`
	FailFast bool `json:"failFast"`
	// PreSync is a list of shell commands to execute before the sync begins.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreSync []string `json:"preSync"`
	// PostSync is a list of shell commands to execute after the sync finished.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PostSync []string `json:"postSync"`
}

type RuntimeConfig struct {
	DryRun bool
}

type Config struct {
	Version      string           `json:"version"`
	Destination  string           `json:"-"` // Never added to config file
	Runtime      RuntimeConfig    `json:"-"` // Never added to config file
	Auth         auth.Credentials `json:"-"` // Secrets only come from the environment
	LogLevel     string           `json:"logLevel"`
	LogFile      string           `json:"logFile"`
	Organization string           `json:"organization"`
	Filters      FiltersConfig    `json:"filters"`
	Engine       SyncEngineConfig `json:"engine"`
	Manifest     ManifestConfig   `json:"manifest"`
	Hooks        SyncHooksConfig  `json:"hooks"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:      buildinfo.Version,
		Destination:  "",     // Intentionally empty to force user configuration.
		LogLevel:     "info", // Default log level.
		Organization: layout.ByYear.String(),
		Filters: FiltersConfig{
			MediaType: catalog.AllMedia.String(),
		},
		Engine: SyncEngineConfig{
			Metrics:                 true,
			Concurrency:             10,  // Simultaneous items in flight.
			BufferSizeKB:            256, // Keep it between 64KB-4MB
			DownloadTimeoutSeconds:  0,
			RateLimit:               0,
			ProgressIntervalSeconds: 10,
		},
		Manifest: ManifestConfig{
			UserExcludeFiles: []string{},
			UserExcludeDirs:  []string{},
			DefaultExcludeFiles: []string{
				// Common system files across platforms.
				"desktop.ini", // Windows folder customization file
				".DS_Store",   // macOS folder customization file
				"Thumbs.db",   // Windows image thumbnail cache
				"Icon\r",      // macOS custom folder icons
			},
			DefaultExcludeDirs: []string{
				"@eadir",       // Synology index folder
				"#recycle",     // Synology recycle bin
				"$Recycle.Bin", // Windows recycle bin
			},
			Snapshot:       false,
			SnapshotFormat: manifest.SnapshotZstd.String(),
		},
		Hooks: SyncHooksConfig{
			Enabled:  true,
			PreSync:  []string{},
			PostSync: []string{},
		},
	}
}

// Load attempts to load a configuration from "pgl-photosync.config.json" in
// the destination root. If the file doesn't exist, it returns the default
// config without an error.
func Load(destination string) (Config, error) {
	absDest, err := filepath.Abs(destination)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for destination %s: %w", destination, err)
	}

	configPath := filepath.Join(absDest, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config := NewDefault()
			config.Destination = absDest
			return config, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	config.Destination = absDest
	config.Version = buildinfo.Version
	return config, nil
}

// Generate creates or overwrites the config file in the destination root.
func Generate(c Config) error {
	configPath := filepath.Join(c.Destination, ConfigFileName)
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// LookupDestination returns the destination root from the flag map or,
// failing that, from the environment. It is needed before Load can run.
func LookupDestination(setFlags map[string]any, lookup func(string) (string, bool)) string {
	if v, ok := setFlags["dest"].(string); ok && v != "" {
		return v
	}
	if v, ok := lookup(EnvDestDir); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ApplyEnv overlays the environment on top of base. Pass os.LookupEnv
// outside tests. Empty variables are treated as unset.
func ApplyEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	merged := base
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvDestDir); ok {
		merged.Destination = v
	}
	if v, ok := get(EnvConcurrency); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvConcurrency, v, err)
		}
		merged.Engine.Concurrency = n
	}
	if v, ok := get(EnvMediaType); ok {
		merged.Filters.MediaType = v
	}
	if v, ok := get(EnvStartDate); ok {
		merged.Filters.StartDate = v
	}
	if v, ok := get(EnvEndDate); ok {
		merged.Filters.EndDate = v
	}
	if v, ok := get(EnvOrganization); ok {
		merged.Organization = v
	}
	if v, ok := get(EnvLogLevel); ok {
		merged.LogLevel = v
	}
	if v, ok := get(EnvClientID); ok {
		merged.Auth.ClientID = v
	}
	if v, ok := get(EnvClientSecret); ok {
		merged.Auth.ClientSecret = v
	}
	if v, ok := get(EnvRefreshToken); ok {
		merged.Auth.RefreshToken = v
	}
	if v, ok := get(EnvAccessToken); ok {
		merged.Auth.AccessToken = v
	}
	return merged, nil
}

// Validate checks the configuration for logical errors and inconsistencies
// and cleans the destination path.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("destination root cannot be empty: use -dest or %s", EnvDestDir)
	}

	var err error
	c.Destination, err = util.ExpandPath(c.Destination)
	if err != nil {
		return fmt.Errorf("could not expand destination path: %w", err)
	}
	c.Destination, err = filepath.Abs(c.Destination)
	if err != nil {
		return fmt.Errorf("could not determine absolute destination path: %w", err)
	}

	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.bufferSizeKB must be greater than 0")
	}
	if c.Engine.DownloadTimeoutSeconds < 0 {
		return fmt.Errorf("engine.downloadTimeoutSeconds cannot be negative")
	}
	if c.Engine.RateLimit < 0 {
		return fmt.Errorf("engine.rateLimit cannot be negative")
	}
	if c.Engine.ProgressIntervalSeconds < 0 {
		return fmt.Errorf("engine.progressIntervalSeconds cannot be negative")
	}

	if _, err := catalog.NewFilter(c.Filters.MediaType, c.Filters.StartDate, c.Filters.EndDate); err != nil {
		return fmt.Errorf("invalid filters: %w", err)
	}
	if _, err := layout.ParseScheme(c.Organization); err != nil {
		return err
	}
	if _, err := manifest.ParseSnapshotFormat(c.Manifest.SnapshotFormat); err != nil {
		return err
	}
	if !plog.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}

	if err := validateGlobPatterns("defaultExcludeFiles", c.Manifest.DefaultExcludeFiles); err != nil {
		return err
	}
	if err := validateGlobPatterns("userExcludeFiles", c.Manifest.UserExcludeFiles); err != nil {
		return err
	}
	if err := validateGlobPatterns("defaultExcludeDirs", c.Manifest.DefaultExcludeDirs); err != nil {
		return err
	}
	if err := validateGlobPatterns("userExcludeDirs", c.Manifest.UserExcludeDirs); err != nil {
		return err
	}
	return nil
}

// LogSummary prints a user-friendly summary of the configuration. Secrets
// are reduced to whether they are set.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"destination", c.Destination,
		"dry_run", c.Runtime.DryRun,
		"organization", c.Organization,
		"media_type", c.Filters.MediaType,
		"concurrency", c.Engine.Concurrency,
		"metrics", c.Engine.Metrics,
		"buffer_size_kb", c.Engine.BufferSizeKB,
		"auth", c.authSummary(),
	}
	if c.Filters.StartDate != "" {
		logArgs = append(logArgs, "date_range", c.Filters.StartDate+".."+c.Filters.EndDate)
	}
	if c.Engine.RateLimit > 0 {
		logArgs = append(logArgs, "rate_limit", c.Engine.RateLimit)
	}
	if c.Engine.DownloadTimeoutSeconds > 0 {
		logArgs = append(logArgs, "download_timeout_s", c.Engine.DownloadTimeoutSeconds)
	}
	if c.Manifest.Snapshot {
		logArgs = append(logArgs, "snapshot", fmt.Sprintf("enabled (f:%s)", c.Manifest.SnapshotFormat))
	}
	if len(c.Manifest.UserExcludeFiles) > 0 {
		logArgs = append(logArgs, "user_exclude_files", strings.Join(c.Manifest.UserExcludeFiles, ", "))
	}
	if len(c.Manifest.UserExcludeDirs) > 0 {
		logArgs = append(logArgs, "user_exclude_dirs", strings.Join(c.Manifest.UserExcludeDirs, ", "))
	}
	if len(c.Hooks.PreSync) > 0 {
		logArgs = append(logArgs, "pre_sync_hooks", strings.Join(c.Hooks.PreSync, "; "))
	}
	if len(c.Hooks.PostSync) > 0 {
		logArgs = append(logArgs, "post_sync_hooks", strings.Join(c.Hooks.PostSync, "; "))
	}
	if c.LogFile != "" {
		logArgs = append(logArgs, "log_file", c.LogFile)
	}
	plog.Info("Configuration loaded", logArgs...)
}

func (c *Config) authSummary() string {
	switch {
	case c.Auth.AccessToken != "":
		return "access token"
	case c.Auth.HasRefreshGrant():
		return "refresh token"
	default:
		return "none"
	}
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern for %s: %q - %w", fieldName, pattern, err)
		}
	}
	return nil
}

// ExcludeFiles returns the default and user file patterns, deduplicated.
func (m *ManifestConfig) ExcludeFiles() []string {
	return util.MergeAndDeduplicate(m.DefaultExcludeFiles, m.UserExcludeFiles)
}

// ExcludeDirs returns the default and user directory patterns, deduplicated.
func (m *ManifestConfig) ExcludeDirs() []string {
	return util.MergeAndDeduplicate(m.DefaultExcludeDirs, m.UserExcludeDirs)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "dest":
			merged.Destination = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "concurrency":
			merged.Engine.Concurrency = value.(int)
		case "media-type":
			merged.Filters.MediaType = value.(string)
		case "start-date":
			merged.Filters.StartDate = value.(string)
		case "end-date":
			merged.Filters.EndDate = value.(string)
		case "organization":
			merged.Organization = value.(string)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "rate-limit":
			merged.Engine.RateLimit = value.(float64)
		case "snapshot":
			switch command {
			case flagparse.Sync:
				merged.Manifest.Snapshot = value.(bool)
			default:
			}
		case "user-exclude-files":
			merged.Manifest.UserExcludeFiles = value.([]string)
		case "user-exclude-dirs":
			merged.Manifest.UserExcludeDirs = value.([]string)
		case "pre-sync-hooks":
			merged.Hooks.PreSync = value.([]string)
		case "post-sync-hooks":
			merged.Hooks.PostSync = value.([]string)
		case "out", "redirect-url", "force", "default":
			// Command options, not configuration.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
