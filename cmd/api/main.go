package main

import (
	"context"
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "staybook/internal/adapters/http_server"
	"staybook/internal/adapters/observability"
	"staybook/internal/adapters/payment"
	"staybook/internal/adapters/queue"
	redisad "staybook/internal/adapters/redis"
	"staybook/internal/app"
	"staybook/internal/domain"
	"staybook/internal/shared"
	mysqlrepo "staybook/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	processor, err := payment.New(cfg.ProcessorBase, cfg.ProcessorKey, 10)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize processor client")
	}

	// exchange rates are loaded once per process; ratesync refreshes the table
	conv, err := app.NewConverter(context.Background(), cfg.BaseCurrency, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("loading exchange rates failed")
	}

	var events domain.EventPublisher
	if cfg.AMQPURL != "" {
		p := queue.NewPublisher(cfg.AMQPURL)
		defer p.Close()
		events = p
	}

	refunds := app.NewRefundService(repo, processor)
	bookings := app.NewBookingService(repo, repo, conv, cache, refunds, events, cfg.BaseCurrency, cfg.CacheTTL)
	checkout := app.NewCheckoutService(repo, processor, cfg.SiteURL, cfg.ProcessorTimeout)
	settlement := app.NewSettlementService(repo, refunds, cache, events)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Bookings:      bookings,
		Checkout:      checkout,
		Settlement:    settlement,
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.WebhookSecret,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
