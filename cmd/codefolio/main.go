package main

import (
	"codefolio-backend/cmd/codefolio/commands"
	"codefolio-backend/lib/telemetry"
	"codefolio-backend/lib/util/serviceutil"
	"context"
	"log/slog"
	"time"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "codefolio")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := tel.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to shutdown telemetry", "err", err)
		}
	}

	code := commands.ExitCode(commands.ExecuteContext(ctx))
	serviceutil.Exit(code, cancel, shutdown)
}
