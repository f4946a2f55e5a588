package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/taskrelay/taskrelay/internal/account"
	accountrepo "github.com/taskrelay/taskrelay/internal/account/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/agent"
	agentrepo "github.com/taskrelay/taskrelay/internal/agent/repositoryimpl"
	auditrepo "github.com/taskrelay/taskrelay/internal/audit/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/internal/delivery"
	"github.com/taskrelay/taskrelay/internal/event"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/message"
	messagerepo "github.com/taskrelay/taskrelay/internal/message/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/notification"
	notificationrepo "github.com/taskrelay/taskrelay/internal/notification/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/pushsubscription"
	pushsubrepo "github.com/taskrelay/taskrelay/internal/pushsubscription/repositoryimpl"
	"github.com/taskrelay/taskrelay/internal/task"
	taskrepo "github.com/taskrelay/taskrelay/internal/task/repositoryimpl"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/clog"
	"github.com/taskrelay/taskrelay/pkg/storage"

	server "github.com/taskrelay/taskrelay/internal"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	watchDir := ""
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
		watchDir = filepath.Join(env.StorageEnv.BaseDir, notificationrepo.Prefix)
		if err := os.MkdirAll(watchDir, 0o755); err != nil {
			slog.Warn("failed to prepare notifications dir", "dir", watchDir, "error", err)
			watchDir = ""
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	accountRepo := accountrepo.NewYAMLRepository(store)
	agentRepo := agentrepo.NewYAMLRepository(store)
	taskRepo := taskrepo.NewYAMLRepository(store)
	messageRepo := messagerepo.NewYAMLRepository(store)
	notificationRepo := notificationrepo.NewYAMLRepository(store)
	auditRepo := auditrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup services
	deliveryEnv := config.DeliveryEnvFromEnv(env)
	notificationService := notification.NewService(
		notificationRepo, taskRepo, agentRepo, accountRepo, messageRepo, bus,
		deliveryEnv.ResponseRetryCooldown,
	)
	executor := task.NewExecutor(
		taskRepo, agentRepo, accountRepo, auditRepo,
		notificationService,
		[]task.Purger{messageRepo, notificationRepo},
		bus,
	)

	// Setup servers
	agentResolver := agent.NewCallerResolver(agentRepo)
	accountServer := account.NewServer(accountRepo, func(ctx context.Context, agentID, accountID string) error {
		a, err := agentRepo.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if a.AccountID != accountID {
			return cerr.NewError(cerr.PermissionDenied, "agent belongs to a different account", nil)
		}
		return nil
	})
	agentServer := agent.NewServer(agentRepo, bus)
	taskServer := task.NewServer(executor, taskRepo, auditRepo)
	messageServer := message.NewServer(messageRepo, taskRepo, bus)
	notificationServer := notification.NewServer(notificationService)
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSubscriptionServer := pushsubscription.NewServer(pushSubRepo, vapidEnv)
	eventServer := event.NewServer(bus, agentResolver)

	srv := server.NewServer(
		config.BaseEnvFromEnv(env),
		agentResolver,
		accountServer,
		agentServer,
		taskServer,
		messageServer,
		notificationServer,
		pushSubscriptionServer,
		eventServer,
	)

	// Setup delivery runner
	pushSender := delivery.NewPushSender(vapidEnv, pushSubRepo)
	runner := delivery.NewRunner(deliveryEnv, notificationRepo, accountRepo, agentRepo, bus, pushSender, watchDir)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		if err := runner.Start(ctx); err != nil {
			slog.Error("delivery runner error", "error", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
