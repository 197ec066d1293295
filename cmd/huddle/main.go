package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appchat "huddle/internal/app/chat"
	"huddle/internal/app/notify"
	"huddle/internal/app/presence"
	domainchat "huddle/internal/domain/chat"
	"huddle/internal/infra/broker/kafka"
	"huddle/internal/infra/config"
	mongostore "huddle/internal/infra/db/mongo"
	ginserver "huddle/internal/infra/http/gin"
	"huddle/internal/infra/identity"
	"huddle/internal/infra/mail"
	"huddle/internal/infra/obs"
	"huddle/internal/infra/storage/memory"
	"huddle/internal/infra/ws"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	store, cleanup, err := buildStores(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	directory := &identity.HTTPClient{BaseURL: cfg.IdentityBaseURL}

	tracker := presence.NewTracker()
	gateway := ws.NewGateway(tracker, store.presence, directory, logger)

	var closeBridge func()
	if len(cfg.KafkaBrokers) > 0 {
		closeBridge, err = attachBridge(ctx, cfg, gateway, logger)
		if err != nil {
			logger.Error("kafka bridge init failed", "error", err)
			os.Exit(1)
		}
		defer closeBridge()
	} else {
		logger.Warn("kafka brokers not configured, realtime events stay on this instance")
	}

	service := &appchat.Service{
		Conversations: store.conversations,
		Messages:      store.messages,
		Blocks:        store.blocks,
		Events:        gateway,
		Logger:        logger,
	}

	scheduler := &notify.Scheduler{
		Messages:    store.messages,
		Users:       directory,
		Mailer:      buildMailer(cfg, logger),
		Logger:      logger,
		Interval:    cfg.NotifyInterval,
		BatchSize:   cfg.NotifyBatchSize,
		Backoff:     cfg.NotifyBackoff,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("notification scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	health := obs.NewHealth()
	health.AddReadyCheck("store", store.ready)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, health, ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Service: service, Logger: logger, Env: cfg.Env},
		WS:             gateway.HandleWS,
		AuthMiddleware: ginserver.AuthMiddleware{Resolver: directory, Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreMode, "instance", cfg.InstanceID)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type stores struct {
	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
	blocks        domainchat.BlockRegistry
	presence      domainchat.PresenceRepository
	ready         func() error
}

func buildStores(cfg config.Config, logger *slog.Logger) (stores, func(), error) {
	if cfg.StoreMode == config.StoreModeMemory {
		logger.Warn("using in-memory storage, data does not survive restarts")
		return stores{
			conversations: memory.NewConversationRepository(),
			messages:      memory.NewMessageRepository(),
			blocks:        memory.NewBlockRegistry(),
			presence:      memory.NewPresenceRepository(),
			ready:         func() error { return nil },
		}, func() {}, nil
	}

	client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return stores{}, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Error("mongo disconnect failed", "error", err)
		}
	}
	return stores{
		conversations: mongostore.NewConversationRepository(client.DB),
		messages:      mongostore.NewMessageRepository(client.DB),
		blocks:        mongostore.NewBlockRegistry(client.DB),
		presence:      mongostore.NewPresenceRepository(client.DB),
		ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		},
	}, cleanup, nil
}

// attachBridge connects the gateway to the shared Kafka topic so events
// published on one instance reach sockets held by the others.
func attachBridge(ctx context.Context, cfg config.Config, gateway *ws.Gateway, logger *slog.Logger) (func(), error) {
	producer, err := kafka.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.InstanceID, nil)
	if err != nil {
		return nil, err
	}
	consumer, err := kafka.NewEventConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.InstanceID, gateway, logger, nil)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	gateway.Bridge = producer

	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("kafka consumer stopped", "error", err)
		}
	}()

	return func() {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close failed", "error", err)
		}
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer close failed", "error", err)
		}
	}, nil
}

func buildMailer(cfg config.Config, logger *slog.Logger) notify.EmailSender {
	if cfg.BrevoAPIKey == "" {
		logger.Warn("BREVO_API_KEY not set, email notifications are logged and dropped")
		return logOnlyMailer{logger: logger}
	}
	return &mail.BrevoSender{
		Endpoint:    cfg.BrevoEndpoint,
		APIKey:      cfg.BrevoAPIKey,
		SenderEmail: cfg.EmailSender,
		SenderName:  cfg.EmailSenderName,
	}
}

type logOnlyMailer struct {
	logger *slog.Logger
}

func (m logOnlyMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info("email suppressed", "to", to, "subject", subject)
	return nil
}
