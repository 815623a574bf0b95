package writer

import (
	"context"

	"github.com/nagimport/ocimp/internal/objects"
)

// writeJunctions replaces the edges rec owns. Relations the record does not
// mention lose their edges too, matching a definition that dropped the list.
func (w *Writer) writeJunctions(ctx context.Context, rec *objects.Record) error {
	for _, rel := range w.cat.For(rec.Type) {
		if !rel.Junction() {
			continue
		}
		table := rel.JunctionTable()
		ownerCol, targetCol := rel.JunctionColumns()
		if _, err := w.store.Exec(ctx, "DELETE FROM "+table+" WHERE "+ownerCol+" = ?", rec.ID); err != nil {
			return err
		}

		seen := make(map[int64]bool)
		for _, target := range rec.Multi[rel.Attr] {
			if seen[target] {
				continue
			}
			seen[target] = true
			if _, err := w.store.Exec(ctx, insert(table, []string{ownerCol, targetCol}), rec.ID, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeCustomVars replaces every custom variable of rec.
func (w *Writer) writeCustomVars(ctx context.Context, rec *objects.Record, custom map[string]string) error {
	objType := rec.Type.String()
	if _, err := w.store.Exec(ctx, "DELETE FROM custom_vars WHERE obj_type = ? AND obj_id = ?", objType, rec.ID); err != nil {
		return err
	}
	for _, name := range sortedKeys(custom) {
		if _, err := w.store.Exec(ctx,
			"INSERT INTO custom_vars (obj_type, obj_id, variable, value) VALUES (?, ?, ?, ?)",
			objType, rec.ID, name, custom[name]); err != nil {
			return err
		}
	}
	return nil
}
