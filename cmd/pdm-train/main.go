// Command pdm-train trains the failure classifier on the telemetry and
// failure datasets and writes partitioned predictions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unijord/pdm/pkg/engine"
	"github.com/unijord/pdm/pkg/objstore"
	"github.com/unijord/pdm/pkg/pipeline"
)

const appName = "pdm-train"

func main() {
	logger := engine.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("[pdm-train] failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s3cfg, err := objstore.ConfigFromEnv()
	if errors.Is(err, objstore.ErrEnvFile) {
		logger.Debug("[pdm-train] no env file, using process environment",
			slog.String("file", objstore.DefaultEnvFile))
	} else if err != nil {
		return err
	}

	sess, err := engine.New(ctx, engine.Options{
		AppName: appName,
		S3:      s3cfg,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := pipeline.Run(ctx, sess, pipeline.DefaultConfig())
	if err != nil {
		return err
	}

	logger.Info("[pdm-train] done",
		slog.String("run_id", res.RunID),
		slog.String("metric", res.Metric),
		slog.Float64("score", res.Score),
		slog.Int("files", len(res.Output.Files)),
		slog.Duration("duration", res.Duration()))
	return nil
}
