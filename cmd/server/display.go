package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proyektor/internal/display"
	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/transport"

	"github.com/spf13/cobra"
)

type displayFlags struct {
	url       string
	broker    string
	clientID  string
	channel   string
	codec     string
	route     string
	placement models.WindowPosition
}

func newDisplayCmd() *cobra.Command {
	f := displayFlags{placement: models.DefaultWindowPosition()}

	// Logs go to stderr; stdout carries the projection.
	cmd := &cobra.Command{
		Use:   "display",
		Short: "Run a display window that follows the presentation channel",
		Long: `Joins the presentation channel, either through the server's WebSocket
endpoint (--url) or an MQTT broker (--mqtt), and renders the projection
to stdout until interrupted or the channel goes away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDisplay(ctx, f)
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "", "WebSocket URL of the channel, e.g. ws://127.0.0.1:5000/ws/presentation")
	cmd.Flags().StringVar(&f.broker, "mqtt", "", "MQTT broker address")
	cmd.Flags().StringVar(&f.clientID, "client-id", "proyektor-display", "MQTT client id prefix")
	cmd.Flags().StringVar(&f.channel, "channel", "presentation", "Channel name (MQTT only)")
	cmd.Flags().StringVar(&f.codec, "codec", "", "Envelope codec: json or msgpack")
	cmd.Flags().StringVar(&f.route, "route", "/presentation", "Route the window was opened at")
	cmd.Flags().IntVar(&f.placement.X, "x", f.placement.X, "Window left edge")
	cmd.Flags().IntVar(&f.placement.Y, "y", f.placement.Y, "Window top edge")
	cmd.Flags().IntVar(&f.placement.Width, "width", f.placement.Width, "Window width in pixels")
	cmd.Flags().IntVar(&f.placement.Height, "height", f.placement.Height, "Window height in pixels")
	cmd.MarkFlagsMutuallyExclusive("url", "mqtt")
	return cmd
}

func (f displayFlags) dial(ctx context.Context) (transport.Backend, error) {
	switch {
	case f.url != "":
		return transport.DialWebSocket(ctx, f.url)
	case f.broker != "":
		return transport.DialMQTT(ctx, transport.MQTTOptions{Broker: f.broker, ClientID: f.clientID}, f.channel)
	default:
		return nil, errors.New("one of --url or --mqtt is required")
	}
}

// terminalSize maps window pixels to character cells.
func terminalSize(pos models.WindowPosition) (cols, rows int) {
	cols, rows = pos.Width/10, pos.Height/20
	if cols < 20 {
		cols = 20
	}
	if rows < 5 {
		rows = 5
	}
	return cols, rows
}

func runDisplay(ctx context.Context, f displayFlags) error {
	codec, err := transport.CodecByName(f.codec)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	backend, err := f.dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to join channel: %w", err)
	}

	cols, rows := terminalSize(f.placement)
	agent := display.NewAgent(backend,
		display.NewTerminalRenderer(os.Stdout, cols, rows, true),
		display.WithGeometry(f.placement),
		display.WithCodec(codec),
	)
	if err := agent.Start(); err != nil {
		agent.Close()
		return fmt.Errorf("failed to start display: %w", err)
	}
	logger.Info("display started", "route", f.route, "codec", codec.Name(), "width", f.placement.Width, "height", f.placement.Height)

	select {
	case <-ctx.Done():
		logger.Info("display interrupted")
	case <-agent.Done():
		logger.Info("display channel closed")
	}
	if err := agent.Close(); err != nil {
		logger.Debug("display close", "error", err)
	}
	return nil
}
