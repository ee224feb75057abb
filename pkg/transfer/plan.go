package transfer

import "time"

// Plan configures the transfer executor for one run.
type Plan struct {
	DryRun bool
	// BufferSizeKB is the size of the copy buffer used per download.
	BufferSizeKB int64
	// Timeout bounds a single download request. Zero means no limit.
	Timeout time.Duration
}
