// Package schema holds the DDL for every table the importer reads or writes.
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/nagimport/ocimp/internal/storage"
)

//go:embed schema.sql
var ddl string

// Statements returns the individual CREATE statements.
func Statements() []string {
	var out []string
	for _, chunk := range strings.Split(ddl, ";") {
		var lines []string
		for _, l := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), "--") {
				continue
			}
			lines = append(lines, l)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Apply creates any missing table and commits.
func Apply(ctx context.Context, s storage.Store) error {
	for _, stmt := range Statements() {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w\n%s", err, stmt)
		}
	}
	return s.Commit(ctx)
}
