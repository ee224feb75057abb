// Package lockfile guards a destination directory against concurrent sync
// runs. The holder refreshes the lock on a heartbeat; a lock whose
// heartbeat stopped long enough ago is considered abandoned and may be
// taken over.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// FileName is the lock file created in the destination root.
const FileName = ".~pgl-photosync.lock"

// TempPattern matches the scratch files written while refreshing the lock.
const TempPattern = FileName + ".*.tmp"

// Owner is the JSON document stored in the lock file.
type Owner struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	AppID      string    `json:"appID"`
	RunID      string    `json:"runID,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
	// Nonce identifies one acquisition, so a racing takeover can tell
	// whether its own write survived.
	Nonce string `json:"nonce"`
}

// ErrLockActive reports a lock that is held and still being refreshed.
type ErrLockActive struct {
	Owner Owner
	Age   time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by PID %d on host '%s' (app %s, run %s), refreshed %s ago",
		e.Owner.PID, e.Owner.Hostname, e.Owner.AppID, e.Owner.RunID, e.Age.Truncate(time.Second))
}

// ErrLostRace is returned when a concurrent takeover of an abandoned lock won.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile means the lock file stayed empty or unparsable across retries.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Tunables, overridden in tests.
var (
	heartbeatInterval = 1 * time.Minute
	staleAfter        = 3 * heartbeatInterval
	acquireAttempts   = 3
	retryPause        = 100 * time.Millisecond
)

// Lock is a held destination lock.
type Lock struct {
	path  string
	owner Owner

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Acquire takes the lock in dir for appID/runID. ctx only bounds the
// acquisition; the heartbeat runs until Release.
func Acquire(ctx context.Context, dir, appID, runID string) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	for range acquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := create(path, appID, runID)
		if err == nil {
			return l.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		current, readErr := readOwner(path)
		switch {
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Lock file is corrupt, treating it as abandoned", "path", path, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and read.
			continue
		case readErr != nil:
			time.Sleep(retryPause)
			continue
		default:
			age := time.Since(current.LastUpdate)
			if age < staleAfter {
				return nil, &ErrLockActive{Owner: current, Age: age}
			}
			plog.Warn("Lock is abandoned, taking over", "pid", current.PID, "host", current.Hostname, "age", age.Truncate(time.Second))
		}

		l, err = takeover(path, appID, runID)
		if err == nil {
			return l.start(), nil
		}
		if errors.Is(err, ErrLostRace) {
			plog.Debug("Lost lock takeover race, retrying")
		} else {
			plog.Warn("Lock takeover failed, retrying", "error", err)
		}
		time.Sleep(retryPause)
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts", acquireAttempts)
}

func newOwner(appID, runID string) (Owner, error) {
	host, err := os.Hostname()
	if err != nil {
		return Owner{}, fmt.Errorf("failed to read hostname: %w", err)
	}
	return Owner{
		PID:        int64(os.Getpid()),
		Hostname:   host,
		AppID:      appID,
		RunID:      runID,
		LastUpdate: time.Now().UTC(),
		Nonce:      uuid.NewString(),
	}, nil
}

// create claims a free lock using O_EXCL.
func create(path, appID, runID string) (*Lock, error) {
	owner, err := newOwner(appID, runID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	err = json.NewEncoder(f).Encode(owner)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: path, owner: owner}, nil
}

// takeover overwrites an abandoned lock atomically and confirms by reading
// the nonce back.
func takeover(path, appID, runID string) (*Lock, error) {
	owner, err := newOwner(appID, runID)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, owner); err != nil {
		return nil, err
	}
	got, err := readOwner(path)
	if err != nil {
		return nil, fmt.Errorf("failed to verify lock takeover: %w", err)
	}
	if got.Nonce != owner.Nonce {
		return nil, ErrLostRace
	}
	return &Lock{path: path, owner: owner}, nil
}

func (l *Lock) start() *Lock {
	removeStaleScratchFiles(l.path)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.heartbeat()
	return l
}

// Owner returns the content this process wrote into the lock.
func (l *Lock) Owner() Owner { return l.owner }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file. It is safe to
// call more than once.
func (l *Lock) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
			return
		}
		plog.Debug("Lock released", "path", l.path)
	})
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.owner.LastUpdate = time.Now().UTC()
			if err := writeAtomic(l.path, l.owner); err != nil {
				plog.Warn("Failed to refresh lock", "error", err)
			}
		}
	}
}

// writeAtomic replaces the lock file via temp file and rename so readers
// never see a half-written document.
func writeAtomic(path string, owner Owner) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create scratch lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := json.NewEncoder(tmp).Encode(owner); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write scratch lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync scratch lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close scratch lock file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace lock file: %w", err)
	}
	return nil
}

// readOwner reads the lock file, retrying briefly when it is empty or
// unparsable.
func readOwner(path string) (Owner, error) {
	var parseErr error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return Owner{}, err
		}
		var o Owner
		if len(data) == 0 {
			parseErr = errors.New("lock file is empty")
		} else if parseErr = json.Unmarshal(data, &o); parseErr == nil {
			return o, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Owner{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, parseErr)
}

// removeStaleScratchFiles deletes scratch files older than the stale
// threshold, which were left behind by crashed runs.
func removeStaleScratchFiles(path string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleAfter)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover scratch lock file", "path", m, "error", err)
		}
	}
}
