// Command pdm-convert converts every CSV file in the working directory to
// Parquet under ./records.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unijord/pdm/pkg/convert"
	"github.com/unijord/pdm/pkg/engine"
)

func main() {
	logger := engine.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	report, err := convert.New(convert.Options{Logger: logger}).Run(ctx)
	stop()
	if err != nil {
		logger.Error("[pdm-convert] failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("[pdm-convert] done", slog.Int("converted", len(report.Converted)))
}
