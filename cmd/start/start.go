// Package start implements the `bucketbrigade start` command: it wires a
// session context and a singer client against a real transport connection
// and runs until interrupted.
package start

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

	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/config"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/metrics"
	"github.com/tphakala/bucketbrigade/internal/session"
	"github.com/tphakala/bucketbrigade/internal/singer"
	"github.com/tphakala/bucketbrigade/internal/transport"
)

// Command creates the `start` subcommand.
func Command(cfg *config.Settings) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start singing: stream microphone audio to the server and play back the mixed result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, username)
		},
	}

	cmd.Flags().StringVar(&username, "username", viper.GetString("username"), "Display name announced to the server")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(ctx context.Context, cfg *config.Settings, username string) error {
	// Init wires the package-global logger that session/singer/calibration
	// fetch via logging.ForService; the command's own logger below is a
	// dedicated, cfg-driven (rotating) file sink.
	logging.Init()

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	logger, closeLog, err := logging.NewFileLogger(cfg.Log.Path, "start", levelVar, cfg.Log)
	if err != nil {
		return fmt.Errorf("constructing file logger: %w", err)
	}
	defer closeLog()

	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("constructing metrics collector: %w", err)
	}

	conn, err := transport.Dial(ctx, cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("dialing server: %w", err)
	}
	defer conn.Close()

	// The codec worker binding is an external collaborator (spec's "the
	// Opus codec and resampler implementations", out of scope for this
	// core); embedders supply a real worker here. The no-op worker below
	// only exercises wiring end to end.
	sessCtx := session.NewContext(*cfg, codec.NoopEncoderWorker{}, codec.NoopDecoderWorker{}, collector)
	if err := sessCtx.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	client := singer.New(sessCtx, conn, username, collector)
	client.OnConnectivityChange(func(connected bool) {
		if connected {
			fmt.Println("reconnected to server")
		} else {
			fmt.Println("lost connection to server")
		}
	})

	if err := client.StartSinging(ctx); err != nil {
		return fmt.Errorf("starting singer: %w", err)
	}
	fmt.Println("singing started, press Ctrl+C to stop")
	logger.Info("singer started", "username", username, "server_url", cfg.ServerURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	client.Stop()
	logger.Info("singer stopped", "username", username)
	fmt.Println("stopped")
	return nil
}
