package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proyektor/internal/bible"
	"proyektor/internal/config"
	"proyektor/internal/db"
	"proyektor/internal/display"
	"proyektor/internal/fonts"
	"proyektor/internal/handlers"
	"proyektor/internal/logger"
	"proyektor/internal/lyrics"
	"proyektor/internal/presentation"
	"proyektor/internal/services"
	"proyektor/internal/state"
	"proyektor/internal/transport"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the presentation coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Initialize storage
	var (
		storage state.Storage
		journal *services.ContentLogService
	)
	switch cfg.Database.Backend {
	case "sqlite":
		if err := db.InitDatabase(cfg.Database.Path); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		storage = services.NewSQLiteStorage(db.DB)
		journal = services.NewContentLogService(db.DB)
	case "file":
		fs, err := services.NewFileStorage(filepath.Dir(cfg.Database.Path))
		if err != nil {
			return err
		}
		storage = fs
	}

	// Initialize transport
	hub := transport.NewHub(transport.WithUpgrader(transport.OriginUpgrader(cfg.Server.AllowedOrigins...)))
	defer hub.Close()

	channel := cfg.Presentation.Channel
	var (
		dial  presentation.ChannelFactory
		codec transport.Codec = transport.JSONCodec{}
	)
	switch cfg.Presentation.Transport {
	case "memory":
		dial = func(context.Context) (transport.Backend, error) { return hub.Join(channel) }
	case "mqtt":
		codec = transport.MsgpackCodec{}
		dial = func(ctx context.Context) (transport.Backend, error) {
			return transport.DialMQTT(ctx, transport.MQTTOptions{
				Broker:   cfg.MQTT.Broker,
				ClientID: cfg.MQTT.ClientID,
			}, channel)
		}
	}

	var opener presentation.WindowOpener
	switch cfg.Display.Mode {
	case "local":
		opener = &display.LocalOpener{
			Dial:  dial,
			Codec: codec,
			Renderer: func() display.Renderer {
				return display.NewTerminalRenderer(os.Stdout, 80, 24, true)
			},
		}
	case "exec":
		opener = &display.ExecOpener{Args: displayArgs(cfg)}
	}

	// Initialize coordinator
	deps := presentation.Deps{
		Dial:    dial,
		Opener:  opener,
		Screens: presentation.StaticScreens(cfg.Display.Screens),
		Storage: storage,
		Fonts:   fonts.NewRegistry(fonts.DefaultDirs()...),
		Codec:   codec,
	}
	if journal != nil {
		deps.Recorder = journal
	}
	coord, err := presentation.New(deps, presentation.OptionsFromConfig(cfg.Presentation))
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	defer coord.Close()

	coord.SubscribeErrors(func(err error) {
		logger.Warn("presentation error", "error", err)
	})
	coord.SubscribeConnState(func(s presentation.ConnState) {
		logger.Info("presentation connection", "state", s)
	})

	// Initialize handlers
	verses := bible.NewClient(cfg.Bible.BaseURL, cfg.Bible.Timeout)
	songs := lyrics.NewClient(cfg.Lyrics.BaseURL, cfg.Lyrics.Timeout)
	router := handlers.SetupRoutes(
		handlers.NewWebSocketHandler(hub),
		handlers.NewPresentationHandler(coord, verses, songs, journal),
		handlers.NewBibleHandler(verses),
		handlers.NewSongHandler(songs),
	)

	// Configure server
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		// Configure TLS if enabled
		if cfg.TLS.Enabled {
			server.TLSConfig = &tls.Config{
				MinVersion: getTLSVersion(cfg.TLS.MinVersion),
			}

			logger.Info("starting HTTPS server", "addr", server.Addr,
				"cert", cfg.TLS.CertFile, "key", cfg.TLS.KeyFile, "minVersion", cfg.TLS.MinVersion)
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.Info("starting HTTP server", "addr", server.Addr)
			logger.Warn("HTTP mode is not recommended for production")
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// displayArgs tells a display child process how to reach the channel.
func displayArgs(cfg *config.Config) []string {
	if cfg.Presentation.Transport == "mqtt" {
		return []string{
			"--mqtt", cfg.MQTT.Broker,
			"--channel", cfg.Presentation.Channel,
			"--codec", transport.MsgpackCodec{}.Name(),
		}
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s/ws/%s", scheme, net.JoinHostPort(host, cfg.Server.Port), cfg.Presentation.Channel)
	return []string{"--url", url}
}

// getTLSVersion converts string version to tls.Version constant
func getTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
