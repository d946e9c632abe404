package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tutorlink/chat/internal/api/handler"
	"tutorlink/chat/internal/chat"
	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/historyapi"
	"tutorlink/chat/internal/identity"
	"tutorlink/chat/internal/localization"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/internal/realtime"
	"tutorlink/chat/internal/storage"
	"tutorlink/chat/pkg/logger"
)

func newLogger(cfg *config.Config) *logger.Logger {
	var (
		log *logger.Logger
		err error
	)
	if cfg.Env == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		return logger.Global()
	}
	return log
}

// setupStorage opens whatever optional infrastructure is configured.
func setupStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) *storage.Service {
	s := storage.NewStorageService(nil, nil)

	if cfg.DatabaseDSN != "" {
		db, err := storage.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("archive unavailable", zap.Error(err))
		}
		s.DB = db
		log.Info("archive connected, migrations complete")
	}

	if cfg.RedisAddr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		s.Redis = rdb
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}
	return s
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := newLogger(cfg)
	logger.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Warn("no .env file loaded", zap.Error(envErr))
	}
	log.Info("starting chat agent",
		zap.String("api", cfg.APIBaseURL),
		zap.String("socket", cfg.SocketURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Identity, history API and the live channel
	session := identity.NewSession(cfg.JWTSecret)
	api := historyapi.New(cfg.APIBaseURL, cfg.HTTPTimeout, session.Token, log)
	manager := realtime.NewManager(realtime.Options{
		URL:               cfg.SocketURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectInitial:  cfg.ReconnectInitial,
		ReconnectMax:      cfg.ReconnectMax,
	}, session.Token, log)

	// 2. Archive and view fan-out
	store := setupStorage(ctx, cfg, log)
	stream := handler.NewBroadcaster()
	notifiers := chat.Notifiers{stream}
	if store.Redis != nil {
		publisher := storage.NewViewPublisher(store.Redis, log)
		go publisher.Run(ctx)
		notifiers = append(notifiers, publisher)
	}

	opts := chat.Options{AckTimeout: cfg.AckTimeout, Notifier: notifiers}
	if store.DB != nil {
		opts.Archive = store
	}

	// 3. Chat loop, following the session
	orch := chat.New(api, manager, opts, log)
	manager.SetHandler(orch)
	go func() {
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("chat loop exited", zap.Error(err))
		}
	}()

	identities := make(chan *models.Identity, 8)
	session.Subscribe(func(id *models.Identity) { identities <- id })
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-identities:
				if err := orch.SetIdentity(ctx, id); err != nil {
					log.Warn("chat not ready for identity", zap.Error(err))
				}
			}
		}
	}()

	if token := identity.LoadToken(cfg.Token, cfg.TokenFile); token != "" {
		if id, err := session.Login(ctx, token, api); err != nil {
			log.Warn("stored token rejected, waiting for login", zap.Error(err))
		} else {
			log.Info("signed in", zap.Int64("user_id", id.ID), zap.String("role", id.Role))
		}
	}

	// 4. Display API
	locales, err := localization.Bundled()
	if err != nil {
		log.Fatal("load translations", zap.Error(err))
	}
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(orch, session, api, stream, locales, log)

	server := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        h.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("display API listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("display API failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("display API shutdown", zap.Error(err))
	}
	manager.Unbind()
	if store.Redis != nil {
		_ = store.Redis.Close()
	}
}
