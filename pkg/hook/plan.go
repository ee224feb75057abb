package hook

// Plan lists the shell commands to run around a sync.
type Plan struct {
	Enabled bool

	PreSyncCommands  []string
	PostSyncCommands []string

	DryRun bool
	// FailFast aborts on the first failing command instead of logging it.
	FailFast bool
}
