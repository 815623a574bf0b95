// Package importer drives one import of an objects.cache or status dump into
// the datastore.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/dump"
	"github.com/nagimport/ocimp/internal/lockfile"
	"github.com/nagimport/ocimp/internal/objects"
	"github.com/nagimport/ocimp/internal/storage"
)

// Mode is the kind of dump being imported. Its value keys the import marker.
type Mode string

const (
	ModeObjects Mode = "objects"
	ModeStatus  Mode = "status"
)

// ErrEmptyDump is returned for a dump without a single block. Importing it
// as object definitions would purge every stored object.
var ErrEmptyDump = errors.New("dump contains no blocks")

// Options configures an import.
type Options struct {
	// DryRun parses and links the dump but writes nothing.
	DryRun bool

	// MarkPending reports never-checked hosts and services as pending when a
	// status snapshot is imported.
	MarkPending bool

	// Version stamps the import marker. ImportFile sets it to the dump's
	// modification time at open; a zero Version stamps the current time.
	Version time.Time

	Logger *zap.Logger

	// Progress receives a copy of every byte read from the dump file.
	Progress io.Writer

	// LockPath, when set, names the lock file held for the whole import.
	LockPath string
}

func (o Options) version() time.Time {
	if !o.Version.IsZero() {
		return o.Version
	}
	return time.Now()
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Result summarizes one import.
type Result struct {
	RunID      string
	Mode       Mode
	Statements int64
	Written    int
	Errors     int
	Skipped    int
	Purged     int64
	PerType    map[objects.Type]int
	Duration   time.Duration

	// NotNewer is set when ImportIfNewer skipped the dump.
	NotNewer bool
}

// OK reports whether every record was written.
func (r *Result) OK() bool {
	return r.Errors == 0
}

// ImportFile imports the dump at path.
func ImportFile(ctx context.Context, store storage.Store, path string, opts Options) (*Result, error) {
	if opts.LockPath != "" {
		lock, err := lockfile.Acquire(opts.LockPath, lockfile.LockInfo{Dump: path})
		if err != nil {
			return nil, fmt.Errorf("acquire import lock: %w", err)
		}
		defer func() { _ = lock.Release() }()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	if opts.Version.IsZero() {
		fi, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat dump: %w", err)
		}
		opts.Version = fi.ModTime()
	}

	var r io.Reader = f
	if opts.Progress != nil {
		r = io.TeeReader(f, opts.Progress)
	}

	sess, err := NewSession(store, opts)
	if err != nil {
		return nil, err
	}
	return sess.Import(ctx, r)
}

// ImportIfNewer imports the dump at path unless its modification time is at
// or before the version recorded by the last successful import of the same
// kind.
func ImportIfNewer(ctx context.Context, store storage.Store, path string, opts Options) (*Result, error) {
	mode, err := DetectMode(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dump: %w", err)
	}

	last, ok, err := LastImport(ctx, store, mode)
	if err != nil {
		return nil, err
	}
	if ok && fi.ModTime().Unix() <= last.Unix() {
		opts.logger().Info("dump not modified since last import, skipping",
			zap.String("path", path),
			zap.String("mode", string(mode)),
			zap.Time("modified", fi.ModTime()),
			zap.Time("last_import", last))
		return &Result{Mode: mode, NotNewer: true, PerType: map[objects.Type]int{}}, nil
	}
	return ImportFile(ctx, store, path, opts)
}

// DetectMode peeks at the first block of the dump at path.
func DetectMode(path string) (Mode, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	t, err := dump.Peek(f)
	if errors.Is(err, io.EOF) {
		return "", ErrEmptyDump
	}
	if err != nil {
		return "", fmt.Errorf("read dump: %w", err)
	}
	return modeOf(t), nil
}

func modeOf(first objects.Type) Mode {
	if objects.IsStatusMarker(first) {
		return ModeStatus
	}
	return ModeObjects
}
