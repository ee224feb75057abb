package preflight

// Plan selects the checks run against the destination root.
type Plan struct {
	RootAccessible   bool
	EnsureRootExists bool
	RootWritable     bool

	DryRun bool
}
