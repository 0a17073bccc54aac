package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mini-maxit/grader/internal/config"
	"github.com/mini-maxit/grader/internal/docker"
	"github.com/mini-maxit/grader/internal/lease"
	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/pipeline"
	"github.com/mini-maxit/grader/internal/rabbitmq"
	"github.com/mini-maxit/grader/internal/rabbitmq/consumer"
	"github.com/mini-maxit/grader/internal/rabbitmq/responder"
	"github.com/mini-maxit/grader/internal/repository"
	"github.com/mini-maxit/grader/internal/results"
	"github.com/mini-maxit/grader/internal/sandbox"
	"github.com/mini-maxit/grader/internal/scheduler"
	"github.com/mini-maxit/grader/internal/scoring"
	"github.com/mini-maxit/grader/internal/stages/compiler"
	"github.com/mini-maxit/grader/internal/stages/packager"
	"github.com/mini-maxit/grader/internal/stages/verifier"
	"github.com/mini-maxit/grader/internal/storage"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
)

func main() {
	logger.InitializeLogger()
	logger := logger.NewNamedLogger("main")

	logger.Info("Starting grader")

	cfg := config.NewConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := rabbitmq.NewRabbitMqConnection(cfg)
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close RabbitMQ connection: %s", err)
		}
	}()

	workerChannel := rabbitmq.NewRabbitMQChannel(conn, cfg.MaxWorkers)
	resp := responder.NewResponder(workerChannel, cfg.PublishChanSize)
	defer func() {
		if err := resp.Close(); err != nil {
			logger.Errorf("Failed to close responder: %s", err)
		}
	}()

	runner, err := newRunner(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize sandbox: %s", err)
	}

	mode, err := verifier.ParseMode(cfg.CompareMode)
	if err != nil {
		logger.Fatalf("Invalid compare mode %q: %s", cfg.CompareMode, err)
	}

	fileService, err := storage.NewCachedStorage(cfg.StorageBaseUrl, constants.CacheDirPath)
	if err != nil {
		logger.Fatalf("Failed to initialize file cache: %s", err)
	}
	grader := pipeline.NewGrader(
		packager.NewPackager(fileService),
		compiler.NewCompiler(runner, cfg.CompileTimeLimit),
		runner,
		verifier.NewVerifier(mode),
	)

	leases, err := newLeaseStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize lease store: %s", err)
	}

	var (
		store  repository.SubmissionRepository
		scorer *scoring.Scorer
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %s", err)
		}
		defer db.Close()
		store = repository.NewSubmissionRepository(db)
		scorer = scoring.NewScorer(repository.NewCreditLedger(db))
	} else {
		logger.Warn("DATABASE_URL is not set, results are only published")
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		MaxWorkers:   cfg.MaxWorkers,
		InstanceID:   uuid.NewString(),
		LeaseTTL:     cfg.LeaseTTL,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, grader, leases, results.NewSink(resp, store, scorer))

	cons := consumer.NewConsumer(workerChannel, cfg.ConsumeQueueName, cfg.ResponseQueueName, sched, resp)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return cons.Listen(gctx)
	})
	g.Go(func() error {
		return rabbitmq.WatchConnection(gctx, conn)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Grader stopped: %s", err)
		return
	}
	logger.Info("Grader stopped")
}

func newRunner(cfg *config.Config) (sandbox.Runner, error) {
	switch cfg.SandboxBackend {
	case "process":
		return sandbox.NewProcessRunner(sandbox.ProcessConfig{
			WorkRoot:         cfg.SandboxWorkRoot,
			EnableNamespaces: cfg.EnableNamespaces,
			RunUIDBase:       cfg.SandboxUIDBase,
			RunUIDCount:      cfg.SandboxUIDCount,
			CgroupRoot:       cfg.SandboxCgroupRoot,
			AllowSharedUID:   cfg.SandboxAllowSharedUID,
		})
	case "docker":
		dCli, err := docker.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return sandbox.NewDockerRunner(dCli), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownSandboxBackend, cfg.SandboxBackend)
	}
}

func newLeaseStore(ctx context.Context, cfg *config.Config) (lease.Store, error) {
	switch cfg.LeaseBackend {
	case "memory":
		return lease.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return lease.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownLeaseBackend, cfg.LeaseBackend)
	}
}
