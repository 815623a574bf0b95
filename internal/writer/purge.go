package writer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/objects"
)

// purgeChunk bounds the size of one NOT IN list.
const purgeChunk = 1000

// Purge deletes every definition row a full import did not write, then the
// junction rows and custom variables left pointing at missing objects. It
// returns the number of object rows removed and does nothing for status
// snapshots or dry runs.
func (w *Writer) Purge(ctx context.Context) (int64, error) {
	if w.opts.StatusOnly || w.opts.DryRun {
		return 0, nil
	}

	var total int64
	for _, t := range objects.Definitions {
		keep := w.keepSet(t)
		n, err := w.store.Exec(ctx, purgeStatement(t.Table(), keep))
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", t, err)
		}
		if n > 0 {
			w.log.Info("purged stale objects", zap.String("type", t.String()), zap.Int64("rows", n))
		}
		total += n
	}

	for _, rel := range w.cat.Junctions() {
		ownerCol, targetCol := rel.JunctionColumns()
		q := fmt.Sprintf("DELETE FROM %s WHERE %s NOT IN (SELECT id FROM %s) OR %s NOT IN (SELECT id FROM %s)",
			rel.JunctionTable(), ownerCol, rel.Owner.Table(), targetCol, rel.Target.Table())
		if _, err := w.store.Exec(ctx, q); err != nil {
			return total, fmt.Errorf("purge %s: %w", rel.JunctionTable(), err)
		}
	}

	for _, t := range objects.Definitions {
		q := "DELETE FROM custom_vars WHERE obj_type = ? AND obj_id NOT IN (SELECT id FROM " + t.Table() + ")"
		if _, err := w.store.Exec(ctx, q, t.String()); err != nil {
			return total, fmt.Errorf("purge custom_vars of %s: %w", t, err)
		}
	}
	return total, nil
}

func (w *Writer) keepSet(t objects.Type) []int64 {
	merged := make(map[int64]bool, len(w.touched[t])+len(w.retained[t]))
	for id := range w.touched[t] {
		merged[id] = true
	}
	for id := range w.retained[t] {
		merged[id] = true
	}
	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// purgeStatement builds a DELETE sparing the ids in keep. Ids are inlined
// so the statement does not run into bound-parameter limits.
func purgeStatement(table string, keep []int64) string {
	if len(keep) == 0 {
		return "DELETE FROM " + table
	}
	var conds []string
	for start := 0; start < len(keep); start += purgeChunk {
		end := min(start+purgeChunk, len(keep))
		parts := make([]string, 0, end-start)
		for _, id := range keep[start:end] {
			parts = append(parts, strconv.FormatInt(id, 10))
		}
		conds = append(conds, "id NOT IN ("+strings.Join(parts, ",")+")")
	}
	return "DELETE FROM " + table + " WHERE " + strings.Join(conds, " AND ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
