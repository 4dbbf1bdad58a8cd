package main

import (
	"context"
	"database/sql"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/leaderboard"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/session"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.MigrateDown(db.DB, steps); err != nil {
				return err
			}
			return logVersion(db.DB)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")
	cmd.AddCommand(up, down)
	return cmd
}

func runMigrateUp(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.MigrateUp(db.DB); err != nil {
		return err
	}
	return logVersion(db.DB)
}

func logVersion(db *sql.DB) error {
	version, dirty, err := store.MigrationVersion(db)
	if err != nil {
		return err
	}
	logging.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func newSeedBadgesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-badges",
		Short: "Write the built-in badge catalogue to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := store.NewPostgresStore(db).SeedBadges(cmd.Context(), gamification.Catalogue())
			if err != nil {
				return err
			}
			logging.Info().Int("badges", n).Msg("badge catalogue seeded")
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index and the Redis leaderboard from Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if strings.TrimSpace(cfg.Meili.URL) != "" {
				meili := search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
				defer meili.Close()
				n, err := search.NewService(meili, search.NewPgFTS(db)).ReindexAll(ctx)
				if err != nil {
					return err
				}
				logging.Info().Int("listings", n).Msg("search index rebuilt")
			}

			if strings.TrimSpace(cfg.Redis.URL) != "" {
				redisStore, err := session.NewRedisStore(cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer redisStore.Close()
				n, err := leaderboard.New(redisStore.Client(), store.NewPostgresStore(db)).Rebuild(ctx)
				if err != nil {
					return err
				}
				logging.Info().Int("users", n).Msg("leaderboard rebuilt")
			}
			return nil
		},
	}
}
