// Package calibratevolume implements the `bucketbrigade calibrate-volume`
// command.
package calibratevolume

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tphakala/bucketbrigade/internal/calibration"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/config"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/metrics"
	"github.com/tphakala/bucketbrigade/internal/session"
)

// Command creates the `calibrate-volume` subcommand.
func Command(cfg *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate-volume",
		Short: "Run the RMS readback volume calibration mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Settings) error {
	logging.Init()

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	logger, closeLog, err := logging.NewFileLogger(cfg.Log.Path, "calibrate-volume", levelVar, cfg.Log)
	if err != nil {
		return fmt.Errorf("constructing file logger: %w", err)
	}
	defer closeLog()

	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("constructing metrics collector: %w", err)
	}

	sessCtx := session.NewContext(*cfg, codec.NoopEncoderWorker{}, codec.NoopDecoderWorker{}, collector)
	if err := sessCtx.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	done := make(chan struct{})
	vc := calibration.NewVolumeCalibrator(sessCtx, func(e calibration.Event) {
		switch e.Type {
		case calibration.EventVolumeChange:
			fmt.Printf("volume: %.3f (human-readable %.3f)\n", e.Volume, e.HumanReadable)
		case calibration.EventVolumeCalibrated:
			fmt.Printf("calibrated input gain: %.3f\n", e.InputGain)
			logger.Info("volume calibration complete", "input_gain", e.InputGain)
			close(done)
		case calibration.EventMicInputChange:
			fmt.Printf("mic input: %v\n", e.HasMicInput)
		}
	})
	vc.Start()
	defer vc.Stop()
	logger.Info("volume calibration started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		fmt.Println("volume calibration complete")
	case <-sigCh:
		fmt.Println("volume calibration cancelled")
	}
	return nil
}
