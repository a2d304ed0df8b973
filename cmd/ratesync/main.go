package main

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staybook/internal/adapters/fxfeed"
	"staybook/internal/adapters/observability"
	"staybook/internal/shared"
	mysqlrepo "staybook/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("feed", cfg.FXFeedBase).
		Int("workers", cfg.Workers).
		Strs("bases", cfg.FXBases).
		Msg("ratesync starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	feed := fxfeed.New(cfg.FXFeedBase, 5)

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, base := range cfg.FXBases {
		base := base

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			defer sem.Release(int64(1))

			rates, err := feed.FetchRates(ctx, base)
			if err != nil {
				log.Warn().Str("base", base).Err(err).Msg("rate fetch failed")
				return
			}
			if err := repo.UpsertRates(ctx, base, rates); err != nil {
				log.Warn().Str("base", base).Err(err).Msg("rate upsert failed")
				return
			}
			log.Info().Str("base", base).Int("quotes", len(rates)).Msg("rates ok")
		}(base)
	}

	wg.Wait()
	log.Info().Msg("rate sync completed")
}
