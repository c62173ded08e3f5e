package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveHTTPAddr string

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Serve the signal tasks as a JSON HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		go env.Discovery.Run(ctx)

		addr := serveHTTPAddr
		if addr == "" {
			addr = cfg.HTTP.Addr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(env.Registry, httpapi.Options{Version: version}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting http server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "http listen")
		}
		return nil
	},
}

func init() {
	serveHTTPCmd.Flags().StringVar(&serveHTTPAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveHTTPCmd)
}
