package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/gateway"
	graphqlhttp "github.com/TykTechnologies/graphql-federation-gateway/pkg/http"
)

const (
	graphqlEndpoint = "/graphql"
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "composes the configured services and serves the gateway over http",
	Example: "gateway serve --config ./gateway.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	zapLogger, logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer zapLogger.Sync() // nolint

	mux := http.NewServeMux()
	host := gateway.HostFunc(func(runtime gateway.Runtime) error {
		mux.Handle(graphqlEndpoint, graphqlhttp.NewGraphqlHTTPHandler(runtime, logger))
		return nil
	})

	gw, err := gateway.CreateGateway(ctx, cfg.Gateway(), host,
		gateway.WithLogger(logger),
		gateway.WithHttpClient(newHttpClient(cfg)),
	)
	if err != nil {
		return err
	}
	defer gw.Close()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Timeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening",
			log.String("addr", cfg.Listen),
			log.String("endpoint", graphqlEndpoint),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
