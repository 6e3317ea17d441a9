package commands

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/internal/fetch"
	"codefolio-backend/internal/orchestrator"
	"codefolio-backend/internal/scrapers/registry"
	"codefolio-backend/internal/store"
	"codefolio-backend/lib/restyutil"
	"context"
	"fmt"
)

// app is everything a command needs, built from the config.
type app struct {
	config  Config
	clock   chrono.StandardImpl
	tel     telemetry.API
	store   *store.SQLStore
	pool    *browser.Pool
	service *orchestrator.Service
}

func openApp(ctx context.Context) (*app, error) {
	config, err := ReadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	clock, err := chrono.NewStandardImpl(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	tel := telemetry.SlogAPI{}

	fetchOpts := config.FetchOptions()
	if verbose {
		output, err := restyutil.NewFilesystemOutput("<dev_state>/resty/fetch")
		if err != nil {
			return nil, err
		}
		fetchOpts.Output = output
	}
	client, err := fetch.NewClient(fetchOpts, tel)
	if err != nil {
		return nil, fmt.Errorf("create fetch client: %w", err)
	}

	st, err := store.Open(ctx, config.Database, clock)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var pool *browser.Pool
	if !config.Browser.Disabled {
		pool = browser.NewPool(
			browser.ChromeLauncher(config.ChromeOptions()),
			config.PoolOptions(),
			clock,
			tel,
		)
	}

	reg := registry.New(registry.Options{}, clock, tel)
	service := orchestrator.NewService(st, reg, client, pool, config.OrchestratorOptions(), clock, tel)

	return &app{
		config:  config,
		clock:   clock,
		tel:     tel,
		store:   st,
		pool:    pool,
		service: service,
	}, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	a.store.Close()
}
