package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealchat/internal/api"
	"mealchat/internal/auth"
	"mealchat/internal/chat"
	"mealchat/internal/commands"
	"mealchat/internal/config"
	"mealchat/internal/http"
	"mealchat/internal/hub"
	"mealchat/internal/logging"
	"mealchat/internal/notify"
	"mealchat/internal/presence"
	"mealchat/internal/responder"
	"mealchat/internal/storage"
	"mealchat/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("mealchat", flag.ContinueOnError)
	enableResponder := flags.String("enable-responder", "", "Conversation id to enable the automated responder for")
	disableResponder := flags.String("disable-responder", "", "Conversation id to disable the automated responder for")
	issueToken := flags.String("issue-token", "", "Participant id to issue an access token for")
	role := flags.String("role", "staff", "Role of the participant for -issue-token (subject or staff)")
	name := flags.String("name", "", "Display name for -issue-token")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cliMode := *enableResponder != "" || *disableResponder != "" || *issueToken != ""
	cfg, err := config.Load(cliMode)
	if err != nil {
		return err
	}

	switch {
	case *enableResponder != "":
		return commands.SetResponder(*enableResponder, true, cfg)
	case *disableResponder != "":
		return commands.SetResponder(*disableResponder, false, cfg)
	case *issueToken != "":
		return commands.IssueToken(*issueToken, *role, *name, cfg)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.Open(ctx, cfg.Storage, cfg.DBFile, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	logger.Info("storage opened", zap.String("kind", cfg.Storage))

	tracker, closePresence, err := newPresence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePresence()

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.PushEnabled() {
		notifier = notify.NewWebPush(store, notify.VAPIDConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.VAPIDSubscriber,
		}, logger)
	}
	dispatcher := notify.NewDispatcher(notifier, notify.Config{
		Concurrency: cfg.NotifyConcurrency,
		Timeout:     cfg.NotifyTimeout,
	}, logger)
	defer dispatcher.Wait()

	var replier responder.Responder
	if cfg.ResponderURL != "" {
		replier = responder.NewHTTPResponder(cfg.ResponderURL, nil)
	}
	adapter := responder.NewAdapter(replier, responder.Config{
		Timeout:  cfg.ResponderTimeout,
		Fallback: cfg.ResponderFallback,
	}, logger)

	h := hub.New(hub.Config{
		Log: chat.New(chat.Config{
			Store:      store,
			MaxRecords: cfg.RecentMessages,
			PageSize:   cfg.PageSize,
		}),
		Conversations:    store,
		Presence:         tracker,
		Notifications:    dispatcher,
		Responder:        adapter,
		ResponderID:      cfg.ResponderID,
		DefaultStaffID:   cfg.DefaultStaffID,
		TypingIdle:       cfg.TypingIdle,
		SubscriberBuffer: cfg.SubscriberBuffer,
		Logger:           logger,
	})
	defer h.Close()

	tokens, err := auth.NewTokenService(auth.Config{
		Secret:      cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
	})
	if err != nil {
		return err
	}

	apiServer := http.NewAPIServer(
		api.New(h, tracker, store, logger),
		ws.NewServer(h, tracker, logger),
		tokens,
		cfg.APIAddr,
		logger,
	)
	adminServer := http.NewAdminServer(api.NewAdminHandler(h, tokens, logger), cfg.AdminAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown failed", zap.Error(err))
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// newPresence picks Redis when REDIS_ADDR is set and the in-process TTL cache otherwise.
func newPresence(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*presence.Tracker, func(), error) {
	ttl := 2 * cfg.PresenceThreshold

	if cfg.RedisAddr == "" {
		store := presence.NewMemoryStore(ctx, ttl)
		return presence.NewTracker(store, cfg.PresenceThreshold, logger), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("presence backed by redis", zap.String("addr", cfg.RedisAddr))

	tracker := presence.NewTracker(presence.NewRedisStore(client, ttl), cfg.PresenceThreshold, logger)
	return tracker, func() { _ = client.Close() }, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:])
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
