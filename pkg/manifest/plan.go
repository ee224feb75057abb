package manifest

// Plan configures a manifest build.
type Plan struct {
	// ExcludeFiles are patterns for files that never enter the manifest.
	ExcludeFiles []string
	// ExcludeDirs are patterns for directories that are not descended into.
	ExcludeDirs []string
}
