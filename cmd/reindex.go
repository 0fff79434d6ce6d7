package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/adapter/store"
	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/index"
	"github.com/carematch/matchengine/internal/logger"
	"github.com/carematch/matchengine/pkg/config"

	_ "github.com/lib/pq"
)

// reindexCmd rebuilds an index from the persistent store and reports
// what it would serve. It exists as an offline consistency check: the
// serving index is rebuilt in-process at startup.
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from stored embeddings and report counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Debug)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if cfg.StoreBackend != "postgres" {
			return fmt.Errorf("reindex requires the postgres store backend")
		}
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pg.Close()

		records, err := pg.ListFresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("list fresh records: %w", err)
		}

		idx, err := index.New(index.Config{
			Dimension:            cfg.EmbeddingDimension,
			ExactSearchThreshold: cfg.ExactSearchThreshold,
			M:                    cfg.HNSWM,
			EFConstruction:       cfg.HNSWEFConstruction,
			EFSearch:             cfg.HNSWEFSearch,
			RandomSeed:           cfg.RandomSeed,
		})
		if err != nil {
			return err
		}
		if err := idx.Rebuild(records); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}

		log.Info("index rebuilt",
			zap.Int("fresh_records", len(records)),
			zap.Int("jobs", idx.Len(domain.EntityTypeJob)),
			zap.Int("professionals", idx.Len(domain.EntityTypeProfessional)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
