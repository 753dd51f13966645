package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"DROWSY_DETECTOR/go-backend/internal/config"
	"DROWSY_DETECTOR/go-backend/internal/database"
	"DROWSY_DETECTOR/go-backend/internal/handlers"
	"DROWSY_DETECTOR/go-backend/internal/repository"
	"DROWSY_DETECTOR/go-backend/internal/services"
	"DROWSY_DETECTOR/go-backend/internal/session"
)

func main() {
	cfg := config.LoadConfig()

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("starting drowsiness detection server",
		zap.String("port", cfg.HTTPPort),
		zap.String("environment", cfg.Environment),
		zap.String("database", cfg.DSNForLog()),
	)

	db, err := database.Open(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("database initialization failed", zap.Error(err))
	}
	defer database.Close(db, logger)

	users := repository.NewUsersRepository(db, logger)
	events := repository.NewEventsRepository(db, logger)
	sessions := repository.NewSessionsRepository(db, logger)

	manager := session.NewManager(sessions, logger)
	metrics := services.NewMetrics()

	source := services.NewHTTPSignalSource(
		cfg.PythonServiceURL,
		cfg.EARThreshold,
		cfg.ModelThreshold,
		cfg.UseEyeModel,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := session.NewSweeper(manager, cfg.SessionMaxAge, cfg.SweepInterval, cfg.SweepRetryInterval, logger)
	go sweeper.Run(ctx)

	hub := handlers.NewHub(cfg, source, events, manager, metrics, logger)
	handler := handlers.New(cfg, db, users, events, sessions, manager, metrics, source, hub, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	// Close whatever session the streams were feeding before the process dies.
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	if id := manager.Current(); id != "" {
		if _, err := manager.End(endCtx, id); err != nil {
			logger.Error("failed to end session on shutdown",
				zap.String("session_id", id), zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func initLogger(cfg *config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.IsDev() {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
