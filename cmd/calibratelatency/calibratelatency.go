// Package calibratelatency implements the `bucketbrigade calibrate-latency`
// command.
package calibratelatency

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/bucketbrigade/internal/calibration"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/config"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/metrics"
	"github.com/tphakala/bucketbrigade/internal/session"
)

// Command creates the `calibrate-latency` subcommand.
func Command(cfg *config.Settings) *cobra.Command {
	var clickVolume float64

	cmd := &cobra.Command{
		Use:   "calibrate-latency",
		Short: "Run the click/echo latency calibration mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, float32(clickVolume))
		},
	}

	cmd.Flags().Float64Var(&clickVolume, "click-volume", viper.GetFloat64("click_volume"), "Loudness of the calibration click train (0.0-1.0)")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(ctx context.Context, cfg *config.Settings, clickVolume float32) error {
	logging.Init()

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	logger, closeLog, err := logging.NewFileLogger(cfg.Log.Path, "calibrate-latency", levelVar, cfg.Log)
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
	lc := calibration.NewLatencyCalibrator(sessCtx, *cfg, func(e calibration.Event) {
		switch e.Type {
		case calibration.EventBeep:
			fmt.Printf("beep: samples=%d done=%v success=%v\n", e.Samples, e.Done, derefBool(e.Success))
			if e.Done {
				close(done)
			}
		case calibration.EventMicInputChange:
			fmt.Printf("mic input: %v\n", e.HasMicInput)
		}
	})
	lc.SetClickVolume(clickVolume)
	lc.Start()
	defer lc.Stop()
	logger.Info("latency calibration started", "click_volume", clickVolume)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		logger.Info("latency calibration complete")
		fmt.Println("latency calibration complete")
	case <-sigCh:
		fmt.Println("latency calibration cancelled")
	}
	return nil
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
