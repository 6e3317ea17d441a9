package serviceutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is canceled on the first SIGINT or SIGTERM.
// A second signal exits immediately with code 130, long running browser loads
// can otherwise hold shutdown for a whole page timeout.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			slog.Info("shutting down, signal again to force", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}
		<-sigs
		os.Exit(130)
	}()

	return ctx, cancel
}

// Exit runs every cleanup in reverse order and then exits with the given code.
func Exit(code int, cleanups ...func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	os.Exit(code)
}

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	Exit(1)
}
