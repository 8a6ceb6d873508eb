package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	remhandler "github.com/fixtrack/notifier/internal/api/handlers/reminders"
	schedhandler "github.com/fixtrack/notifier/internal/api/handlers/scheduler"
	"github.com/fixtrack/notifier/internal/api/router"
	"github.com/fixtrack/notifier/internal/api/server"
	"github.com/fixtrack/notifier/internal/config"
	rulerepo "github.com/fixtrack/notifier/internal/repository/rule"
	historyrepo "github.com/fixtrack/notifier/internal/repository/runhistory"
	lockrepo "github.com/fixtrack/notifier/internal/repository/runlock"
	ticketrepo "github.com/fixtrack/notifier/internal/repository/ticket"
	"github.com/fixtrack/notifier/internal/scheduler"
	"github.com/fixtrack/notifier/pkg/email"
	"github.com/fixtrack/notifier/pkg/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
	}

	emailClient := email.NewClient(
		cfg.Email.SMTPHost,
		smtpPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)
	telegramClient := telegram.NewClient(cfg.Telegram.Token)

	notifiers := map[string]scheduler.Notifier{
		"email":    emailClient,
		"telegram": telegramClient,
	}

	rules := rulerepo.NewRepository(db)
	tickets := ticketrepo.NewRepository(db)
	locks := lockrepo.NewRepository(db)
	history := historyrepo.NewRepository(db)

	dispatcher := scheduler.NewDispatcher(tickets, notifiers)
	coordinator := scheduler.NewCoordinator(
		rules, tickets, locks, history, dispatcher, rdb,
		cfg.Scheduler.LockTTL, cfg.Scheduler.Workers, cfg.Retry,
	)

	go coordinator.Start(ctx, cfg.Scheduler.Interval)

	schedHandler := schedhandler.NewHandler(coordinator, history, rdb, val, cfg)
	remHandler := remhandler.NewHandler(tickets)

	r := router.New(schedHandler, remHandler, cfg.Scheduler.TriggerToken)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}
}
