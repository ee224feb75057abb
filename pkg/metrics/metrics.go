package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
)

// Metrics defines the interface for collecting and reporting sync statistics.
type Metrics interface {
	AddItemsSeen(n int64)
	AddAlreadyCurrent(n int64)
	AddMoved(n int64)
	AddDownloaded(n int64)
	AddFailed(n int64)
	AddBytesDownloaded(n int64)
	AddDirsCreated(n int64)
	Snapshot() Counts
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// Counts is a point-in-time copy of the counters.
type Counts struct {
	ItemsSeen       int64
	AlreadyCurrent  int64
	Moved           int64
	Downloaded      int64
	Failed          int64
	BytesDownloaded int64
	DirsCreated     int64
}

// Settled returns the number of items that reached a final outcome.
func (c Counts) Settled() int64 {
	return c.AlreadyCurrent + c.Moved + c.Downloaded + c.Failed
}

// SyncMetrics holds the atomic counters for tracking a sync run's progress.
// It is the concrete implementation of the Metrics interface.
type SyncMetrics struct {
	ItemsSeen       atomic.Int64
	AlreadyCurrent  atomic.Int64
	Moved           atomic.Int64
	Downloaded      atomic.Int64
	Failed          atomic.Int64
	BytesDownloaded atomic.Int64
	DirsCreated     atomic.Int64

	mu        sync.Mutex
	stopChan  chan struct{}
	startTime time.Time
}

func (m *SyncMetrics) AddItemsSeen(n int64)       { m.ItemsSeen.Add(n) }
func (m *SyncMetrics) AddAlreadyCurrent(n int64)  { m.AlreadyCurrent.Add(n) }
func (m *SyncMetrics) AddMoved(n int64)           { m.Moved.Add(n) }
func (m *SyncMetrics) AddDownloaded(n int64)      { m.Downloaded.Add(n) }
func (m *SyncMetrics) AddFailed(n int64)          { m.Failed.Add(n) }
func (m *SyncMetrics) AddBytesDownloaded(n int64) { m.BytesDownloaded.Add(n) }
func (m *SyncMetrics) AddDirsCreated(n int64)     { m.DirsCreated.Add(n) }

func (m *SyncMetrics) Snapshot() Counts {
	return Counts{
		ItemsSeen:       m.ItemsSeen.Load(),
		AlreadyCurrent:  m.AlreadyCurrent.Load(),
		Moved:           m.Moved.Load(),
		Downloaded:      m.Downloaded.Load(),
		Failed:          m.Failed.Load(),
		BytesDownloaded: m.BytesDownloaded.Load(),
		DirsCreated:     m.DirsCreated.Load(),
	}
}

func (m *SyncMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
	if interval <= 0 || m.stopChan != nil {
		return
	}
	stop := make(chan struct{})
	m.stopChan = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *SyncMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary prints the counters with a custom message.
// This can be called by a background ticker or at the end of the run.
func (m *SyncMetrics) LogSummary(msg string) {
	m.mu.Lock()
	start := m.startTime
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}

	c := m.Snapshot()
	plog.Info(msg,
		"items_seen", c.ItemsSeen,
		"already_current", c.AlreadyCurrent,
		"moved", c.Moved,
		"downloaded", c.Downloaded,
		"failed", c.Failed,
		"bytes_downloaded", humanize.IBytes(uint64(c.BytesDownloaded)),
		"dirs_created", c.DirsCreated,
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddItemsSeen(n int64)                             {}
func (m *NoopMetrics) AddAlreadyCurrent(n int64)                        {}
func (m *NoopMetrics) AddMoved(n int64)                                 {}
func (m *NoopMetrics) AddDownloaded(n int64)                            {}
func (m *NoopMetrics) AddFailed(n int64)                                {}
func (m *NoopMetrics) AddBytesDownloaded(n int64)                       {}
func (m *NoopMetrics) AddDirsCreated(n int64)                           {}
func (m *NoopMetrics) Snapshot() Counts                                 { return Counts{} }
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*SyncMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
