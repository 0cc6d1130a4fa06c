package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrLockTimeout is returned when the rebuild lock could not be acquired
// within the bounded wait.
var ErrLockTimeout = errors.New("timed out waiting for rebuild lock")

const lockPollInterval = 250 * time.Millisecond

// lockRecord is the JSON content of the lock-marker file. The expiry makes
// the lock a lease: a contender may reclaim it once the lease has lapsed,
// so a crashed holder never wedges the index forever.
type lockRecord struct {
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

// FileLock is an exclusive, crash-safe lease over an index storage location.
// The holder renews the lease in the background until Release is called.
// The pid/acquired pair identifies the holder: renewal and release only act
// on a file that still carries it, so a holder that lost the lock (a
// contender reclaimed an expired or corrupt file) never removes the new
// holder's record.
type FileLock struct {
	path   string
	lease  time.Duration
	record lockRecord

	stopRenew chan struct{}
	done      sync.WaitGroup
}

// AcquireLock takes the lock at path, waiting up to wait for a current
// holder. A lock whose lease has expired is reclaimed. The returned lock
// must be released with Release; its lease is renewed automatically until
// then.
func AcquireLock(path string, wait, lease time.Duration) (*FileLock, error) {
	deadline := time.Now().Add(wait)
	for {
		record, err := tryCreate(path, lease)
		if err == nil {
			l := &FileLock{path: path, lease: lease, record: record, stopRenew: make(chan struct{})}
			l.done.Add(1)
			go l.renewLoop()
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		if reclaimExpired(path) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

// Release stops lease renewal and removes the lock file, provided the file
// still carries this holder's record. It is safe to call exactly once,
// typically via defer, regardless of how the build ended.
func (l *FileLock) Release() error {
	close(l.stopRenew)
	l.done.Wait()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file %s: %w", l.path, err)
	}
	var record lockRecord
	if err := json.Unmarshal(data, &record); err != nil || !l.owns(record) {
		// The lock was reclaimed; it belongs to its new holder now.
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

func (l *FileLock) owns(record lockRecord) bool {
	return record.PID == l.record.PID && record.Acquired.Equal(l.record.Acquired)
}

func (l *FileLock) renewLoop() {
	defer l.done.Done()
	ticker := time.NewTicker(l.lease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopRenew:
			return
		case <-ticker.C:
			record := l.record
			record.Expires = time.Now().Add(l.lease)
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			// Rename over the lock file so pollers never observe a
			// truncated or partially written record.
			tmp := l.path + ".tmp"
			if os.WriteFile(tmp, data, 0o644) == nil {
				_ = os.Rename(tmp, l.path)
			}
		}
	}
}

// tryCreate atomically creates the lock file with an initial lease and
// returns the record it wrote.
func tryCreate(path string, lease time.Duration) (lockRecord, error) {
	record := lockRecord{
		PID:      os.Getpid(),
		Acquired: time.Now(),
		Expires:  time.Now().Add(lease),
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return lockRecord{}, err
	}
	defer f.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return lockRecord{}, err
	}
	if _, err := f.Write(data); err != nil {
		return lockRecord{}, err
	}
	return record, nil
}

// reclaimExpired removes the lock file if its lease has lapsed, returning
// whether a retry should happen immediately. An unreadable or corrupt lock
// file is treated as expired: whatever wrote it is not renewing it.
func reclaimExpired(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Racing with a release; retry.
		return os.IsNotExist(err)
	}

	var record lockRecord
	if err := json.Unmarshal(data, &record); err != nil || time.Now().After(record.Expires) {
		return os.Remove(path) == nil
	}
	return false
}
