package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/introspection"
)

const (
	formatSDL  = "sdl"
	formatYAML = "yaml"
)

var composeFormat string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "compose prints the composed schema of the configured services to std out",
	Example: `gateway compose --config ./gateway.yaml > supergraph.graphql
gateway compose --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if composeFormat != formatSDL && composeFormat != formatYAML {
			return fmt.Errorf("compose: unknown format %q", composeFormat)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		zapLogger, logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer zapLogger.Sync() // nolint

		introspector := introspection.NewIntrospector(newHttpClient(cfg), logger)
		schemas, err := introspector.IntrospectAll(cmd.Context(), cfg.Services)
		if err != nil {
			return err
		}
		composed, err := composition.Compose(schemas)
		if err != nil {
			return err
		}

		if composeFormat == formatYAML {
			return writeSummary(cmd.OutOrStdout(), composed)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), composed.SDL)
		return err
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringVarP(&composeFormat, "format", "f", formatSDL, "format of the output, sdl or yaml (entity owners per type)")
}

type entitySummary struct {
	Type   string         `yaml:"type"`
	Owners []ownerSummary `yaml:"owners"`
}

type ownerSummary struct {
	Service   string   `yaml:"service"`
	Key       []string `yaml:"key"`
	Extension bool     `yaml:"extension,omitempty"`
}

type compositionSummary struct {
	Services []string        `yaml:"services"`
	Types    int             `yaml:"types"`
	Entities []entitySummary `yaml:"entities"`
}

func writeSummary(out io.Writer, composed *composition.ComposedSchema) error {
	summary := compositionSummary{
		Services: composed.Services,
		Types:    len(composed.TypeNames),
	}

	typeNames := make([]string, 0, len(composed.EntityOwners))
	for typeName := range composed.EntityOwners {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		entity := entitySummary{Type: typeName}
		for _, owner := range composed.EntityOwners[typeName] {
			entity.Owners = append(entity.Owners, ownerSummary{
				Service:   owner.Service,
				Key:       owner.KeyFields,
				Extension: owner.Extension,
			})
		}
		summary.Entities = append(summary.Entities, entity)
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
