// Package cmd holds the gateway command line.
package cmd

import (
	"net/http"

	log "github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/config"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/datasource/httpclient"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "gateway composes federated GraphQL services into one schema and serves it",
	Long: `gateway introspects the configured GraphQL services, composes their schemas
along @key entity references and delegates client operations to the services.

Configuration is read from a YAML file and GATEWAY_ prefixed environment variables.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./gateway.yaml", "config is the path of the gateway configuration file")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

func newLogger(cfg *config.Config) (*zap.Logger, log.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger, log.NewZapLogger(logger, log.DebugLevel), nil
}

func newHttpClient(cfg *config.Config) httpclient.Client {
	return httpclient.NewNetHttpClient(&http.Client{Timeout: cfg.Timeout})
}
