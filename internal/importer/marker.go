package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nagimport/ocimp/internal/storage"
)

const markerTable = "import_marker"

// LastImport returns when the last successful import of mode finished.
func LastImport(ctx context.Context, store storage.Store, mode Mode) (time.Time, bool, error) {
	sec, err := storage.QueryInt64(ctx, store, "SELECT last_import FROM "+markerTable+" WHERE kind = ?", string(mode))
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read import marker: %w", err)
	}
	return time.Unix(sec, 0), true, nil
}

func touchMarker(ctx context.Context, store storage.Store, mode Mode, at time.Time) error {
	q := store.Dialect().Upsert(markerTable, "kind", []string{"kind", "last_import"})
	if _, err := store.Exec(ctx, q, string(mode), at.Unix()); err != nil {
		return fmt.Errorf("write import marker: %w", err)
	}
	return nil
}
