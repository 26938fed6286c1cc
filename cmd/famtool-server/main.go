package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"famtool-server/internal/app"
	"famtool-server/internal/auth"
	"famtool-server/internal/config"
	"famtool-server/internal/logger"
	"famtool-server/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:          "famtool-server",
	Short:        "Parental monitoring backend",
	SilenceUsage: true,
}

func main() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the store triggers and the daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.AddCommand(serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads configuration and wires the application. Callers close it.
func open(ctx context.Context) (*app.App, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New("famtool-server", cfg.LogLevel)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, err
	}
	return a, log, nil
}

func runServe(ctx context.Context) error {
	a, log, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()
	cfg := a.Config

	gin.SetMode(cfg.GinMode)
	a.Start()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: auth.Issuer,
	}
	router := server.NewRouter(server.Deps{App: a, TokenConfig: tokenCfg})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("listening")
		return server.Run(gctx, cfg, router)
	})
	if cfg.SchedulerEnabled {
		g.Go(func() error {
			err := a.Scheduler().Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
