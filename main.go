// Command performance-service dispatches on APP_COMPONENT into one of
// the platform's process roles: the HTTP API, the rework_queue
// processor, the mass-recalc/individual-recalc producers, or the
// deploy-mode batch engine. One binary, five roles, matching
// original_source/src/main.rs's role dispatch, realized with the flag +
// signal-driven graceful shutdown shape this codebase's legacy CLI used.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/osuAkatsuki/performance-service/internal/beatmaps"
	"github.com/osuAkatsuki/performance-service/internal/config"
	"github.com/osuAkatsuki/performance-service/internal/deploy"
	"github.com/osuAkatsuki/performance-service/internal/httpapi"
	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/metrics"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
	"github.com/osuAkatsuki/performance-service/internal/processor"
	"github.com/osuAkatsuki/performance-service/internal/queue"
	"github.com/osuAkatsuki/performance-service/internal/rework"
	"github.com/osuAkatsuki/performance-service/internal/scores"
	"github.com/osuAkatsuki/performance-service/internal/session"
	"github.com/osuAkatsuki/performance-service/internal/users"
)

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("performance-service (rework recalculation platform)")
		return
	}

	settings := config.Load()
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.New(settings.AppComponent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	db, err := openDB(settings.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	var runErr error
	switch settings.AppComponent {
	case "api":
		runErr = runAPI(ctx, settings, db, logger)
	case "processor":
		runErr = runProcessor(ctx, settings, db, logger)
	case "mass_recalc":
		runErr = runMassRecalc(ctx, settings, db, logger)
	case "individual_recalc":
		runErr = runIndividualRecalc(ctx, settings, db, logger)
	case "deploy":
		runErr = runDeploy(ctx, settings, db, logger)
	default:
		runErr = fmt.Errorf("unknown APP_COMPONENT %q", settings.AppComponent)
	}
	if runErr != nil {
		log.Fatalf("%s: %v", settings.AppComponent, runErr)
	}
}

func openDB(databaseURL string) (*sqlx.DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(sqlDB, "pgx"), nil
}

func openRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func runAPI(ctx context.Context, settings *config.Settings, db *sqlx.DB, logger logging.Logger) error {
	redisClient, err := openRedis(settings.RedisURL)
	if err != nil {
		return err
	}
	broker, err := queue.Dial(settings.AMQPURL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer broker.Close()

	beatmapSrc, err := beatmaps.New(settings.BeatmapsPath, "https://old.ppy.sh/osu", &http.Client{Timeout: settings.HTTPClientTimeout})
	if err != nil {
		return fmt.Errorf("open beatmap source: %w", err)
	}

	reworksRepo := rework.New(db)
	usersRepo := users.New(db)
	scoresReader := scores.New(db)
	leaderboard := rework.NewRedisLeaderboard(redisClient)
	registry := ppalgo.DefaultRegistry()
	m := metrics.New()
	sessionStore := session.NewStore(redisClient, m)
	enqueuer := queue.NewEnqueuer(reworksRepo, scoresReader, broker, nil)
	sessionSvc := session.NewService(sessionStore, usersRepo, reworksRepo, enqueuer)

	srv := httpapi.NewServer(reworksRepo, leaderboard, sessionSvc, usersRepo, beatmapSrc, registry, logger, m)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.APIPort),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "api listening", "port", settings.APIPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runProcessor(ctx context.Context, settings *config.Settings, db *sqlx.DB, logger logging.Logger) error {
	redisClient, err := openRedis(settings.RedisURL)
	if err != nil {
		return err
	}
	broker, err := queue.Dial(settings.AMQPURL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer broker.Close()

	beatmapSrc, err := beatmaps.New(settings.BeatmapsPath, "https://old.ppy.sh/osu", &http.Client{Timeout: settings.HTTPClientTimeout})
	if err != nil {
		return fmt.Errorf("open beatmap source: %w", err)
	}

	reworksRepo := rework.New(db)
	scoresReader := scores.New(db)
	leaderboard := rework.NewRedisLeaderboard(redisClient)
	registry := ppalgo.DefaultRegistry()
	m := metrics.New()

	deliveries, err := broker.Consume(fmt.Sprintf("processor-%d", os.Getpid()))
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	proc := processor.New(reworksRepo, scoresReader, beatmapSrc, registry, leaderboard, logger, m, broker)
	proc.Run(ctx, deliveries)
	return nil
}

func runMassRecalc(ctx context.Context, settings *config.Settings, db *sqlx.DB, logger logging.Logger) error {
	broker, err := queue.Dial(settings.AMQPURL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer broker.Close()

	reworksRepo := rework.New(db)
	scoresReader := scores.New(db)
	enqueuer := queue.NewEnqueuer(reworksRepo, scoresReader, broker, nil)

	rw, err := reworksRepo.Get(ctx, settings.MassRecalcReworkID)
	if err != nil {
		return err
	}
	if rw == nil {
		return fmt.Errorf("rework %d does not exist", settings.MassRecalcReworkID)
	}

	// Crash-safety ordering (spec §9): purge the broker queue, then wipe
	// the rework-scoped DB rows, then clear the leaderboard ZSET, and
	// only then re-enqueue every eligible user.
	if err := broker.Purge(); err != nil {
		return err
	}
	if err := reworksRepo.DeleteAllForRework(ctx, rw.ReworkID); err != nil {
		return err
	}
	redisClient, err := openRedis(settings.RedisURL)
	if err != nil {
		return err
	}
	leaderboard := rework.NewRedisLeaderboard(redisClient)
	if err := leaderboard.Delete(ctx, rw.ReworkID); err != nil {
		return err
	}

	var userIDs []int32
	if err := db.SelectContext(ctx, &userIDs, `SELECT id FROM users`); err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	enqueued := 0
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		outcome, err := enqueuer.QueueUser(ctx, userID, *rw)
		if err != nil {
			logger.ErrorContext(ctx, "failed to enqueue user", "user_id", userID, "error", err)
			continue
		}
		if outcome == queue.Enqueued {
			enqueued++
		}
	}
	logger.InfoContext(ctx, "mass recalc enqueue complete", "rework_id", rw.ReworkID, "enqueued", enqueued, "total_users", len(userIDs))
	return nil
}

func runIndividualRecalc(ctx context.Context, settings *config.Settings, db *sqlx.DB, logger logging.Logger) error {
	broker, err := queue.Dial(settings.AMQPURL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer broker.Close()

	reworksRepo := rework.New(db)
	scoresReader := scores.New(db)
	enqueuer := queue.NewEnqueuer(reworksRepo, scoresReader, broker, nil)

	rw, err := reworksRepo.Get(ctx, settings.MassRecalcReworkID)
	if err != nil {
		return err
	}
	if rw == nil {
		return fmt.Errorf("rework %d does not exist", settings.MassRecalcReworkID)
	}

	var userID int32
	if _, err := fmt.Sscanf(os.Getenv("INDIVIDUAL_RECALC_USER_ID"), "%d", &userID); err != nil {
		return fmt.Errorf("INDIVIDUAL_RECALC_USER_ID is required for app_component=individual_recalc: %w", err)
	}

	if err := reworksRepo.DeleteAllForUser(ctx, rw.ReworkID, userID); err != nil {
		return err
	}
	redisClient, err := openRedis(settings.RedisURL)
	if err != nil {
		return err
	}
	leaderboard := rework.NewRedisLeaderboard(redisClient)
	if err := leaderboard.ZRem(ctx, rw.ReworkID, userID); err != nil {
		return err
	}

	outcome, err := enqueuer.QueueUser(ctx, userID, *rw)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "individual recalc enqueue complete", "rework_id", rw.ReworkID, "user_id", userID, "outcome", outcome)
	return nil
}

func runDeploy(ctx context.Context, settings *config.Settings, db *sqlx.DB, logger logging.Logger) error {
	redisClient, err := openRedis(settings.RedisURL)
	if err != nil {
		return err
	}
	beatmapSrc, err := beatmaps.New(settings.BeatmapsPath, "https://old.ppy.sh/osu", &http.Client{Timeout: settings.HTTPClientTimeout})
	if err != nil {
		return fmt.Errorf("open beatmap source: %w", err)
	}
	registry := ppalgo.DefaultRegistry()
	m := metrics.New()

	engine := deploy.New(db, beatmapSrc, registry, redisClient, logger, deploy.ModsFilter{
		Mods:    settings.DeployModsFilter,
		NeqMods: settings.DeployNeqModsFilter,
	}, m)

	for _, mode := range settings.DeployModes {
		rxValues := []int32{0}
		if isRelaxEligible(mode) && len(settings.DeployRelaxBits) > 0 {
			rxValues = rxValues[:0]
			for _, rx := range settings.DeployRelaxBits {
				rxValues = append(rxValues, int32(rx))
			}
		}
		for _, rx := range rxValues {
			if !settings.DeployTotalPPOnly {
				if err := engine.RunPhaseA(ctx, int32(mode), rx); err != nil {
					return fmt.Errorf("phase A mode=%d rx=%d: %w", mode, rx, err)
				}
			}
			if settings.DeployTotalPP {
				if err := engine.RunPhaseB(ctx, int32(mode), rx); err != nil {
					return fmt.Errorf("phase B mode=%d rx=%d: %w", mode, rx, err)
				}
			}
		}
	}
	return nil
}

// isRelaxEligible reports whether mode supports the relax/autopilot
// score tables (mania has no relax variant).
func isRelaxEligible(mode int) bool {
	return mode != 3
}
