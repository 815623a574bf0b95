package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/config"
	"github.com/nagimport/ocimp/internal/storage"
	"github.com/nagimport/ocimp/internal/storage/sqlstore"
	"github.com/nagimport/ocimp/internal/telemetry"
)

var dbFlagKeys = map[string]string{
	"db.type": "db-type",
	"db.host": "db-host",
	"db.port": "db-port",
	"db.user": "db-user",
	"db.pass": "db-pass",
	"db.name": "db-name",
	"db.path": "db-path",
	"db.tls":  "db-tls",
}

func addDBFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-type", "mysql", "Database type: mysql or sqlite")
	f.String("db-host", "localhost", "Database host or unix socket path")
	f.Int("db-port", 3306, "Database port")
	f.String("db-user", "merlin", "Database user")
	f.String("db-pass", "merlin", "Database password")
	f.String("db-name", "merlin", "Database name")
	f.String("db-path", "", "Database file (sqlite)")
	f.Bool("db-tls", false, "Use TLS for the MySQL connection")
}

// openStore connects with the merged db.* settings. The store is wrapped for
// tracing when telemetry is on.
func (a *app) openStore(ctx context.Context, cmd *cobra.Command) (storage.Store, func(), error) {
	if err := bindFlags(cmd, dbFlagKeys); err != nil {
		return nil, nil, err
	}
	a.cfg.DB = config.Current().DB
	db := a.cfg.DB

	dialect, err := storage.ParseDialect(db.Type)
	if err != nil {
		return nil, nil, err
	}
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Dialect:     dialect,
		Path:        db.Path,
		Host:        db.Host,
		Port:        db.Port,
		User:        db.User,
		Password:    db.Pass,
		Database:    db.Name,
		TLS:         db.TLS,
		RetryWindow: db.RetryWindow,
	})
	if err != nil {
		return nil, nil, err
	}
	a.log.Debug("connected to datastore", zap.String("dialect", string(dialect)), zap.String("database", db.Name))

	closeFn := func() {
		if err := s.Close(); err != nil {
			a.log.Warn("close datastore", zap.Error(err))
		}
	}
	return telemetry.WrapStore(s), closeFn, nil
}
