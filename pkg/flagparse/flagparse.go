package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	LogFile  *string
	DryRun   *bool
	Metrics  *bool

	// Shared: Sync / Init / Manifest
	Dest             *string
	UserExcludeFiles *string
	UserExcludeDirs  *string

	// Shared: Sync / Init
	Concurrency   *int
	MediaType     *string
	StartDate     *string
	EndDate       *string
	Organization  *string
	BufferSizeKB  *int
	RateLimit     *float64
	PreSyncHooks  *string
	PostSyncHooks *string

	// Sync specific
	Snapshot *bool

	// Manifest specific
	Out *string

	// AuthURL specific
	RedirectURL *string

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.LogFile = fs.String("log-file", "", "Also write log records to this file, rotated by size.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Enable progress reporting and item counters.")
}

func registerDestFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Dest = fs.String("dest", "", "Destination root of the local library. (Required, or set GOOGLE_PHOTOS_DEST_DIR)")
	f.UserExcludeFiles = fs.String("user-exclude-files", "", "Comma-separated list of case-insensitive file names to keep out of the manifest (supports glob patterns).")
	f.UserExcludeDirs = fs.String("user-exclude-dirs", "", "Comma-separated list of case-insensitive directory names to skip while scanning (supports glob patterns).")
}

func registerSyncSettingFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Concurrency = fs.Int("concurrency", 0, "Maximum number of items reconciled at the same time.")
	f.MediaType = fs.String("media-type", "", "Media type to fetch: 'ALL_MEDIA', 'PHOTO' or 'VIDEO'.")
	f.StartDate = fs.String("start-date", "", "First day of the date range, YYYY-MM-DD. Requires -end-date.")
	f.EndDate = fs.String("end-date", "", "Last day of the date range, YYYY-MM-DD. Requires -start-date.")
	f.Organization = fs.String("organization", "", "Folder layout for downloaded items: 'by_year'.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the copy buffer in kilobytes used per download.")
	f.RateLimit = fs.Float64("rate-limit", 0, "Maximum catalog page requests per second (0 = unlimited).")
	f.PreSyncHooks = fs.String("pre-sync-hooks", "", "Comma-separated list of commands to run before the sync.")
	f.PostSyncHooks = fs.String("post-sync-hooks", "", "Comma-separated list of commands to run after the sync.")
}

func registerSyncFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlags(fs, f)
	registerSyncSettingFlags(fs, f)
	f.Snapshot = fs.Bool("snapshot", false, "Write a manifest snapshot into the destination root after the sync.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports all sync settings (to generate config) plus 'force' and 'default'.
	registerDestFlags(fs, f)
	registerSyncSettingFlags(fs, f)
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
}

func registerManifestFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDestFlags(fs, f)
	f.Out = fs.String("out", "", "Write a manifest snapshot to this path (.json, .json.gz or .json.zst).")
}

func registerAuthURLFlags(fs *flag.FlagSet, f *cliFlags) {
	f.RedirectURL = fs.String("redirect-url", "http://localhost:8080/oauth2callback", "Redirect URL registered for the OAuth client.")
}

type subcommand struct {
	desc     string
	register func(fs *flag.FlagSet, f *cliFlags)
}

var subcommands = map[Command]subcommand{
	Sync:     {"Synchronize the cloud library into the destination root.", registerSyncFlags},
	Init:     {"Write a configuration file into the destination root.", registerInitFlags},
	Manifest: {"Scan the destination root and optionally write a manifest snapshot.", registerManifestFlags},
	AuthURL:  {"Print the OAuth consent URL for the configured client.", registerAuthURLFlags},
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	sub, ok := subcommands[command]
	if !ok {
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)
	sub.register(fs, f)

	fs.Usage = func() {
		printSubcommandUsage(command, sub.desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %v", command, fs.Args())
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "log-file", f.LogFile)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)

	addIfUsed(flagMap, usedFlags, "dest", f.Dest)
	addIfUsed(flagMap, usedFlags, "concurrency", f.Concurrency)
	addIfUsed(flagMap, usedFlags, "media-type", f.MediaType)
	addIfUsed(flagMap, usedFlags, "start-date", f.StartDate)
	addIfUsed(flagMap, usedFlags, "end-date", f.EndDate)
	addIfUsed(flagMap, usedFlags, "organization", f.Organization)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "rate-limit", f.RateLimit)
	addIfUsed(flagMap, usedFlags, "snapshot", f.Snapshot)
	addIfUsed(flagMap, usedFlags, "out", f.Out)
	addIfUsed(flagMap, usedFlags, "redirect-url", f.RedirectURL)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "user-exclude-files", f.UserExcludeFiles, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "user-exclude-dirs", f.UserExcludeDirs, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-sync-hooks", f.PreSyncHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-sync-hooks", f.PostSyncHooks, ParseCmdList)

	if v, ok := flagMap["concurrency"]; ok && v.(int) < 1 {
		return nil, fmt.Errorf("-concurrency must be at least 1, got %d", v.(int))
	}
	if v, ok := flagMap["rate-limit"]; ok && v.(float64) < 0 {
		return nil, fmt.Errorf("-rate-limit cannot be negative")
	}

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Keeps a local folder in step with a cloud photo library.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  sync        Synchronize the library into the destination root\n")
	fmt.Fprintf(fs.Output(), "  manifest    Scan the destination root and report what is there\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  auth-url    Print the OAuth consent URL\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Keeps a local folder in step with a cloud photo library.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
