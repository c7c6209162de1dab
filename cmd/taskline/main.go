package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/chatops/taskline/internal/config"
	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/messenger/slack"
	"github.com/chatops/taskline/internal/messenger/telegram"
	"github.com/chatops/taskline/internal/notify"
	"github.com/chatops/taskline/internal/reminder"
	"github.com/chatops/taskline/internal/server"
	"github.com/chatops/taskline/internal/store/memory"
	"github.com/chatops/taskline/internal/store/postgres"
	redisstore "github.com/chatops/taskline/internal/store/redis"
	"github.com/chatops/taskline/internal/task"
	"github.com/chatops/taskline/internal/workspace"
)

// repos is the set of repository contracts both store backends satisfy.
type repos struct {
	workspaces domain.WorkspaceRepository
	members    domain.WorkspaceMemberRepository
	invites    domain.WorkspaceInviteRepository
	drafts     domain.TaskDraftRepository
	tasks      domain.TaskRepository
	captures   domain.PendingCaptureRepository
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	// Initialize structured logging from environment.
	level, parseErr := zerolog.ParseLevel(os.Getenv("TASKLINE_LOG_LEVEL"))
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("TASKLINE_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	// Select the persistence backend.
	var r repos
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}

		store, perr := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if perr != nil {
			return perr
		}
		defer store.Close()

		r = repos{
			workspaces: store.Workspaces(),
			members:    store.Members(),
			invites:    store.Invites(),
			drafts:     store.Drafts(),
			tasks:      store.Tasks(),
			captures:   store.Captures(),
		}
	case "memory":
		log.Warn().Msg("memory store selected; all state is lost on restart")

		store := memory.New(clock)
		r = repos{
			workspaces: store.Workspaces(),
			members:    store.Members(),
			invites:    store.Invites(),
			drafts:     store.Drafts(),
			tasks:      store.Tasks(),
			captures:   store.Captures(),
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// Connect to Redis for event fanout when enabled.
	var events server.EventPublisher
	if cfg.Redis.Enabled {
		pubsub, rerr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if rerr != nil {
			return rerr
		}
		defer pubsub.Close()
		events = pubsub
	}

	// Register the configured messengers.
	registry := notify.NewRegistry()
	defaultPlatform := ""
	if cfg.Telegram.BotToken != "" {
		registry.Register("telegram", telegram.NewTelegramMessenger(telegram.NewClient(cfg.Telegram.BotToken)))
		defaultPlatform = "telegram"
	}
	if cfg.Slack.BotToken != "" {
		registry.Register("slack", slack.NewSlackMessenger(slacklib.New(cfg.Slack.BotToken)))
		if defaultPlatform == "" {
			defaultPlatform = "slack"
		}
	}
	if defaultPlatform == "" {
		return fmt.Errorf("no messenger configured: set TASKLINE_TELEGRAM_BOT_TOKEN or TASKLINE_SLACK_BOT_TOKEN")
	}

	log.Info().
		Strs("platforms", registry.Platforms()).
		Str("default", defaultPlatform).
		Msg("messengers registered")

	notifier := notify.New(registry, defaultPlatform)

	// Create services.
	taskSvc := task.NewService(r.tasks, r.drafts, r.captures, r.members, r.workspaces, clock)
	workspaceSvc := workspace.NewService(r.workspaces, r.members, r.invites, clock)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Schedule the overdue digest.
	if cfg.Reminder.Enabled {
		sched := reminder.New(r.workspaces, r.tasks, notifier, clock, cfg.Reminder.WorkspaceLimit, cfg.Reminder.TaskLimit)
		if rerr := sched.Start(ctx, cfg.Reminder.Spec); rerr != nil {
			return rerr
		}
		defer sched.Stop()
	}

	// Create HTTP server with all routes wired.
	webhook := server.NewWebhookHandler(taskSvc, workspaceSvc, r.members, registry, notifier, events)
	srv := server.New(ctx, cfg, webhook, taskSvc)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
