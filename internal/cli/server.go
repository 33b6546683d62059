package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/config"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/memory"
	"assessment-engine/internal/infra/postgres"
	redisinfra "assessment-engine/internal/infra/redis"
	"assessment-engine/internal/logger"
	transport "assessment-engine/internal/transport/http"
	"assessment-engine/internal/worker"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := RunMigrations(ctx, cfg.Postgres.URL, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.AssessmentLoader = memory.NewStaticAssessmentLoader(sampleAssessments())
	if pool != nil {
		loader = postgres.NewAssessmentLoader(pool)
	}

	assessmentTTL := config.TTLDuration(cfg.Assessment.TTL, 10*time.Minute)
	var assessments app.AssessmentRepository
	if redisClient != nil {
		assessments = redisinfra.NewAssessmentRepository(redisClient, loader, assessmentTTL)
	} else {
		assessments = memory.NewAssessmentRepository(loader, assessmentTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	// Terminal records: queue through Redis when both stores exist, else write directly.
	var (
		sink         app.RecordSink = memory.NewRecordStore()
		recordWorker *worker.RecordWorker
	)
	switch {
	case pool != nil && redisClient != nil:
		queue := redisinfra.NewRecordQueue(redisClient, cfg.Engine.RecordQueue)
		sink = queue
		recordWorker = worker.NewRecordWorker(redisClient, queue.Name(), postgres.NewRecordStore(pool), log)
	case pool != nil:
		sink = postgres.NewRecordStore(pool)
	}

	engine := app.NewEngine(store, assessments,
		app.WithLogger(log),
		app.WithAutoAdvance(cfg.Engine.AutoAdvance),
		app.WithJitterTolerance(config.TTLDuration(cfg.Engine.JitterTolerance, time.Second)),
		app.WithRecordSink(sink),
	)

	router := transport.NewRouter(
		transport.NewHandler(engine, log),
		transport.NewWSHandler(engine, log),
		log,
	)
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", finalPort).Msg("starting assessment engine")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if recordWorker != nil {
		g.Go(func() error {
			return recordWorker.Run(gctx)
		})
	}
	return g.Wait()
}

// sampleAssessments is the built-in catalogue used when no Postgres is configured.
func sampleAssessments() map[string]domain.Assessment {
	digits := func(labels ...string) []domain.Choice {
		out := make([]domain.Choice, len(labels))
		for i, l := range labels {
			out[i] = domain.Choice{Label: string(rune('A' + i)), Text: l}
		}
		return out
	}
	return map[string]domain.Assessment{
		"arithmetic-1": {
			ID:              "arithmetic-1",
			Title:           "Arithmetic warm-up",
			DurationSeconds: 300,
			Questions: []domain.Question{
				{ID: "q1", Prompt: "What is 2 + 2?", Choices: digits("3", "4", "5"), Points: 1, Difficulty: domain.DifficultyEasy},
				{ID: "q2", Prompt: "What is 7 x 6?", Choices: digits("36", "42", "48"), Points: 1, Difficulty: domain.DifficultyEasy},
				{ID: "q3", Prompt: "What is 144 / 12?", Choices: digits("11", "12", "14"), Points: 2, Difficulty: domain.DifficultyMedium},
				{ID: "q4", Prompt: "What is 15% of 80?", Choices: digits("8", "12", "15"), Points: 2, Difficulty: domain.DifficultyHard},
			},
			AnswerKey: domain.AnswerKey{"B", "B", "B", "B"},
		},
	}
}
