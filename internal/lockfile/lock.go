// Package lockfile provides the exclusive run lock that keeps two imports
// from writing to the same store at once.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock held by another process")

// LockInfo is written into the lock file by its holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	Dump      string    `json:"dump,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held exclusive lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the lock at path without blocking. The file is created if
// needed and left behind on release; only the OS lock matters.
func Acquire(path string, info LockInfo) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if held, rerr := ReadLockInfo(path); rerr == nil && held.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLockBusy, held.PID)
			}
		}
		return nil, err
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	data, err := json.Marshal(info)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = f.Truncate(0)
	if err := flockUnlock(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadLockInfo reads the holder recorded in a lock file. Files holding a
// bare PID are accepted too.
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format in %s", path)
	}
	return &LockInfo{PID: pid}, nil
}

// HolderAlive reports whether the process recorded in the lock file still
// runs.
func HolderAlive(path string) bool {
	info, err := ReadLockInfo(path)
	if err != nil {
		return false
	}
	return isProcessRunning(info.PID)
}
