package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/cli"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/postgres"
	infraredis "assessment-engine/internal/infra/redis"
	"assessment-engine/internal/worker"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSessionRecordsReachPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	log := zerolog.Nop()
	if err := cli.RunMigrations(ctx, pgURL, log); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewAssessmentLoader(pool)
	if err := loader.SaveAssessment(ctx, sampleAssessment()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	records := postgres.NewRecordStore(pool)
	queue := infraredis.NewRecordQueue(redisClient, "")
	recordWorker := worker.NewRecordWorker(redisClient, queue.Name(), records, log)
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- recordWorker.Run(workerCtx) }()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	engine := app.NewEngine(
		infraredis.NewSessionStore(redisClient, 5*time.Minute),
		infraredis.NewAssessmentRepository(redisClient, loader, 5*time.Minute),
		app.WithRecordSink(queue),
	)

	// Manual submission.
	submitted, err := engine.CreateFromAssessment(ctx, "algebra-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustStart(t, engine, submitted)
	if _, err := engine.Answer(ctx, submitted, "q1", "B"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := engine.Answer(ctx, submitted, "q2", "A"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	score, err := engine.Submit(ctx, submitted)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if score.TotalEarned != 1 || score.IncorrectCount != 1 {
		t.Fatalf("unexpected score %+v", score)
	}

	// Expiry on the real clock.
	expiring, err := engine.CreateSession(ctx, app.CreateSessionInput{
		AssessmentID:    "inline",
		Questions:       sampleAssessment().Questions,
		AnswerKey:       sampleAssessment().AnswerKey,
		DurationSeconds: 1,
	})
	if err != nil {
		t.Fatalf("create inline: %v", err)
	}
	mustStart(t, engine, expiring)
	if _, err := engine.Answer(ctx, expiring, "q2", "C"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	rec := waitForRecord(t, records, submitted)
	if rec.EndReason != domain.EndReasonSubmitted || rec.Answers["q2"] != "A" || rec.Score.TotalPossible != 2.5 {
		t.Fatalf("unexpected submitted record %+v", rec)
	}

	rec = waitForRecord(t, records, expiring)
	if rec.EndReason != domain.EndReasonExpired || rec.Score.TotalEarned != 1.5 {
		t.Fatalf("unexpected expired record %+v", rec)
	}
	if elapsed := rec.SubmittedAt.Sub(rec.StartedAt); elapsed > time.Second+time.Millisecond {
		t.Fatalf("elapsed %v exceeds duration", elapsed)
	}
}

func mustStart(t *testing.T, engine *app.Engine, sessionID string) {
	t.Helper()
	if _, err := engine.Start(context.Background(), sessionID); err != nil {
		t.Fatalf("start %s: %v", sessionID, err)
	}
}

func waitForRecord(t *testing.T, store *postgres.RecordStore, sessionID string) domain.SessionRecord {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.GetRecord(context.Background(), sessionID)
		if err == nil {
			return rec
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("get record: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("record for %s never persisted", sessionID)
	return domain.SessionRecord{}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "engine", "POSTGRES_PASSWORD": "enginepass", "POSTGRES_DB": "assessments"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://engine:enginepass@%s:%s/assessments?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func sampleAssessment() domain.Assessment {
	choices := []domain.Choice{{Label: "A", Text: "3"}, {Label: "B", Text: "4"}, {Label: "C", Text: "5"}}
	return domain.Assessment{
		ID:              "algebra-1",
		Title:           "Arithmetic warm-up",
		DurationSeconds: 300,
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Choices: choices, Points: 1},
			{ID: "q2", Prompt: "What is 2 + 3?", Choices: choices, Points: 1.5},
		},
		AnswerKey: domain.AnswerKey{"B", "C"},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
