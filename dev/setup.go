package main

import (
	devenv "codefolio-backend/dev/env"
	"codefolio-backend/internal/store"
	configlibsql "codefolio-backend/lib/configutil/libsql"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const devDatabase = "<dev_state>/codefolio.db"

const exampleConfig = `{
    database: { file: "<dev_state>/codefolio.db" },
    fetch: { timeout_seconds: 15, rate_per_second: 2, burst: 2, cache_mb: 16, cache_ttl_seconds: 300 },
    browser: { headful: false, page_timeout_seconds: 45, pool_size: 2 },
    retry: { max_attempts: 3, initial_ms: 1000, max_ms: 8000, multiplier: 1.5, crash_cooldown_ms: 5000 },
    verification: { max_attempts: 5, code_length: 6 },
    refresh: { cron: "0 2 * * *", gap_seconds: 3, concurrency: 2 },
    timezone: "UTC",
}
`

func create(ctx context.Context, recreate bool) error {
	statedir, err := devenv.StateDir()
	if err != nil {
		return err
	}
	if recreate {
		slog.Info("removing state directory", "dir", statedir)
		err = os.RemoveAll(statedir)
		if err != nil {
			return err
		}
	}
	err = os.MkdirAll(statedir, 0777)
	if err != nil {
		return err
	}

	err = CreateDevDB(ctx)
	if err != nil {
		return err
	}
	err = WriteExampleConfig()
	if err != nil {
		return err
	}

	slog.Info("dev environment ready")
	return PrintConfigLocations(os.Stdout)
}

func CreateDevDB(ctx context.Context) error {
	db, err := configlibsql.Struct{File: devDatabase}.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	err = store.Migrate(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", devDatabase, err)
	}
	slog.Info("dev database migrated", "db", devDatabase)
	return nil
}

func WriteExampleConfig() error {
	_, err := os.Stat("config.json5")
	if err == nil {
		slog.Info("keeping existing config.json5")
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	slog.Info("writing example config.json5")
	return os.WriteFile("config.json5", []byte(exampleConfig), 0600)
}

func PrintConfigLocations(w io.Writer) error {
	statedir, err := devenv.StateDir()
	if err != nil {
		return err
	}
	dbpath, err := devenv.ResolvePath(devDatabase)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "state directory     %s\n", statedir)
	fmt.Fprintf(w, "dev database        %s\n", dbpath)
	fmt.Fprintln(w, "config              config.json5 (overrides in config.local.json5)")
	fmt.Fprintln(w, "telemetry           telemetry.json5, searched upward from the working directory")
	fmt.Fprintln(w, "libsql test         set CODEFOLIO_TEST_LIBSQL to run it against docker")
	fmt.Fprintf(w, "state override      set %s to move <dev_state>\n", devenv.StateDirEnv)
	return nil
}
