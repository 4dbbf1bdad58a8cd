package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GDIPSA-Team2/ecoplate/internal/app"
	"github.com/GDIPSA-Team2/ecoplate/internal/config"
	"github.com/GDIPSA-Team2/ecoplate/internal/email"
	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/leaderboard"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/media"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/recommend"
	"github.com/GDIPSA-Team2/ecoplate/internal/report"
	"github.com/GDIPSA-Team2/ecoplate/internal/scheduler"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/session"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if migrate {
				if err := runMigrateUp(cmd.Context()); err != nil {
					return err
				}
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)
	if _, err := dataStore.SeedBadges(ctx, gamification.Catalogue()); err != nil {
		return err
	}

	deps := app.Deps{
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		}),
		Recommender: recommend.New(recommend.Config{URL: cfg.Recommend.URL, Timeout: cfg.Recommend.Timeout}),
		Reports:     report.NewRenderer(),
	}

	if strings.TrimSpace(cfg.Redis.URL) != "" {
		logging.Info().Msg("using redis for refresh tokens and the leaderboard")
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		board := leaderboard.New(redisStore.Client(), dataStore)
		if n, err := board.Rebuild(ctx); err != nil {
			logging.Warn().Err(err).Msg("leaderboard rebuild failed, serving from postgres until scores change")
		} else {
			logging.Info().Int("users", n).Msg("leaderboard rebuilt")
		}
		deps.Sessions = redisStore
		deps.Leaderboard = board
		deps.Checks = append(deps.Checks, app.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisStore.Client().Ping(ctx).Err() },
		})
	} else {
		logging.Info().Msg("using postgres for refresh tokens and the leaderboard")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meili = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db))
	defer searchService.Wait()
	deps.Search = searchService
	if _, err := searchService.ReindexAll(ctx); err != nil {
		logging.Warn().Err(err).Msg("initial search reindex failed")
	}

	if images, err := newMediaStore(ctx, cfg); err != nil {
		logging.Warn().Err(err).Msg("image uploads disabled")
	} else if images != nil {
		deps.Media = images
	}

	hub := realtime.NewHub(cfg.CORSOrigins)
	deps.Hub = hub
	deps.Sockets = hub

	service := app.New(cfg, dataStore, deps)

	jobs := scheduler.New(cfg.Location())
	if cfg.Scheduler.Enabled {
		for _, job := range service.Jobs() {
			if err := jobs.Add(job); err != nil {
				return err
			}
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Str("addr", cfg.Addr).Str("env", cfg.Env).Msg("EcoPlate API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(hub.RunWithContext(gctx))
	})
	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			return ignoreCanceled(jobs.RunWithContext(gctx))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newMediaStore returns nil when object storage is not configured.
func newMediaStore(ctx context.Context, cfg config.Config) (*media.Store, error) {
	if strings.TrimSpace(cfg.MinIO.Endpoint) == "" {
		return nil, nil
	}
	s, err := media.NewStore(media.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
