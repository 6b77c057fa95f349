package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/database"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/logger"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/repository"
)

// openFunc returns the collection to reconcile and a function releasing it
type openFunc func(ctx context.Context, log *zap.Logger) (dedupe.CollectionStore, func(), error)

func openRepository(_ context.Context, zlog *zap.Logger) (dedupe.CollectionStore, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenGorm(cfg.DB, zlog)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return repository.NewRecipeRepository(db, zlog), closeDB, nil
}

func newRootCmd(open openFunc, zlog *zap.Logger, out io.Writer) *cobra.Command {
	var (
		dryRun   bool
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge duplicate recipes in the global collection",
		Long: "Scans the global recipe collection, merges recipes whose main ingredients " +
			"overlap at or above the live duplicate threshold into the oldest copy and " +
			"soft-deletes the rest.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := open(cmd.Context(), zlog)
			if err != nil {
				return fmt.Errorf("failed to open recipe store: %w", err)
			}
			defer release()

			report, err := dedupe.NewReconciler(store, zlog, pageSize).Run(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			verb := "merged"
			if report.DryRun {
				verb = "would merge"
			}
			fmt.Fprintf(out, "scanned %d recipes, %s %d duplicates\n", report.Scanned, verb, report.Merged)
			for _, p := range report.Pairs {
				fmt.Fprintf(out, "  %s <- %s (%.2f)\n", p.KeptID, p.RemovedID, p.Score)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report duplicates without writing")
	cmd.Flags().IntVar(&pageSize, "page-size", 200, "recipes read per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func main() {
	zlog := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"})
	defer zlog.Sync()

	if err := newRootCmd(openRepository, zlog, os.Stdout).ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
