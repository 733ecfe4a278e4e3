package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itsboxy/diffking-job-tracker/internal/tracker/remote"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "advanced",
	Short:   "Manage the shared remote database",
}

var remoteMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the remote tables",
	Long: `Apply the schema migrations to the remote Postgres database. With the
postgres driver the remote URL is used; for a Supabase project pass the
project's database connection string with --dsn.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dsn, err := migrationDSN(cmd, cfg.Remote.Driver, cfg.Remote.URL)
		if err != nil {
			return err
		}

		if err := remote.Migrate(cmd.Context(), dsn); err != nil {
			return err
		}
		version, err := remote.MigrationVersion(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		outFor(cmd).Success("Remote schema is at version %d", version)
		return nil
	},
}

var remoteVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the remote schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dsn, err := migrationDSN(cmd, cfg.Remote.Driver, cfg.Remote.URL)
		if err != nil {
			return err
		}

		version, err := remote.MigrationVersion(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		outFor(cmd).Field("Schema version", version)
		return nil
	},
}

func migrationDSN(cmd *cobra.Command, driver, url string) (string, error) {
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		return dsn, nil
	}
	if driver == remote.DriverPostgres && url != "" {
		return url, nil
	}
	return "", fmt.Errorf("no database connection string: pass --dsn or use the postgres driver")
}

func init() {
	remoteCmd.PersistentFlags().String("dsn", "", "Postgres connection string (default: remote.url with the postgres driver)")

	remoteCmd.AddCommand(remoteMigrateCmd, remoteVersionCmd)
	rootCmd.AddCommand(remoteCmd)
}
