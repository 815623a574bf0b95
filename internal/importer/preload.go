package importer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/objects"
	"github.com/nagimport/ocimp/internal/storage"
)

// preload binds every stored named object to its id so a re-import reuses
// the same ids.
func (s *Session) preload(ctx context.Context) error {
	d := s.store.Dialect()
	total := 0
	for _, t := range objects.Named {
		key := t.String() + "_name"
		if t == objects.Service {
			key = d.Concat("host_name", "';'", "service_description")
		}
		if err := s.preloadType(ctx, t, "SELECT id, "+key+" FROM "+t.Table()); err != nil {
			return err
		}
		n := s.ids.Len(t.String())
		total += n
		s.log.Debug("preloaded identities", zap.String("type", t.String()), zap.Int("objects", n))
	}
	s.log.Info("preload complete", zap.String("phase", "preload"), zap.Int("objects", total))
	return nil
}

func (s *Session) preloadType(ctx context.Context, t objects.Type, query string) error {
	rows, err := s.store.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("preload %s: %w", t, err)
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("preload %s: %w", t, err)
		}
		if len(vals) != 2 {
			return fmt.Errorf("preload %s: expected 2 columns, got %d", t, len(vals))
		}
		if err := s.ids.SetRaw(t.String(), storage.AsString(vals[1]), storage.AsString(vals[0])); err != nil {
			return fmt.Errorf("preload %s: %w", t, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preload %s: %w", t, err)
	}
	return nil
}
