package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"offline0/internal/offline0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "offline0",
		Short:         "Offline cache router for the site",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenvDefault("OFFLINE0_CONFIG", "/offline0.yaml"), "path to offline0.yaml")

	root.AddCommand(newServeCmd(&configPath), newClassifyCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front in front of the origin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := offline0.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := offline0.NewLogger(cfg.Logging.Level, os.Stderr, pretty)
			if err != nil {
				return fmt.Errorf("logging.level: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human readable console logs")
	return cmd
}

func serve(parent context.Context, cfg offline0.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := offline0.NewService(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams only end when the hub lets go of them.
	srv.RegisterOnShutdown(svc.Hub().Shutdown)

	go func() {
		logger.Info().Str("addr", addr).Str("origin", cfg.Server.Origin).Msg("offline0 listening")
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newClassifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "classify URL...",
		Short: "Print the classification and strategy of each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := offline0.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c := offline0.NewClassifier(cfg)
			out := cmd.OutOrStdout()
			for _, a := range args {
				u, err := url.Parse(a)
				if err != nil {
					return fmt.Errorf("parse %q: %w", a, err)
				}
				cls := c.Classify(u)
				fmt.Fprintf(out, "%s\t%s\t%s\n", a, cls, cls.Strategy())
			}
			return nil
		},
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
