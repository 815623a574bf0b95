package main

import (
	"github.com/spf13/cobra"

	"github.com/nagimport/ocimp/internal/debug"
	"github.com/nagimport/ocimp/internal/storage/schema"
)

func newInitDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables the importer writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := schema.Apply(ctx, store); err != nil {
				return err
			}
			debug.SetOutput(cmd.OutOrStdout(), nil)
			debug.PrintNormal("Schema ready (%d statements, %s)\n", len(schema.Statements()), store.Dialect())
			return nil
		},
	}
	addDBFlags(cmd)
	return cmd
}
