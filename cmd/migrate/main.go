package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/database"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/logger"
)

func main() {
	zlog := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"})
	defer zlog.Sync()

	if err := newRootCmd(zlog).Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd(zlog *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the embedded recipe schema migrations",
		SilenceUsage: true,
	}

	withMigrator := func(fn func(*database.Migrator) error) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DB.Driver == "sqlite" {
				return runSQLite(cfg, zlog)
			}

			db, err := database.New(cfg.DB, zlog)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := database.NewMigrator(db, cfg.DB.Name, zlog)
			if err != nil {
				return err
			}
			return fn(m)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE:  withMigrator((*database.Migrator).Up),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE:  withMigrator((*database.Migrator).Down),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withMigrator(func(m *database.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
	)
	return root
}

// runSQLite creates the schema through gorm; the SQL files target postgres
func runSQLite(cfg *config.Config, zlog *zap.Logger) error {
	db, err := database.OpenGorm(cfg.DB, zlog)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	zlog.Info("sqlite schema migrated", zap.String("path", cfg.DB.SQLitePath))
	return nil
}
