package main

import (
	"context"

	"github.com/smallbiznis/pressledger/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			conn *gorm.DB
			log  *zap.Logger
		)
		opts := append(infraOptions(), fx.Populate(&conn, &log))
		return runApp(cmd.Context(), opts, func(ctx context.Context) error {
			if err := migration.Apply(conn.WithContext(ctx)); err != nil {
				return err
			}
			log.Named("ledgerctl").Info("schema up to date", zap.String("dialect", conn.Dialector.Name()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
