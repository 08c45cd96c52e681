// Package introspection fetches the schema documents of federated services.
package introspection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/jensneuse/abstractlogger"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/datasource/httpclient"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

const ServiceDefinitionQuery = `query __ApolloGetServiceDefinition__ { _service { sdl } }`

// GQLErr is the errors array of a service response.
type GQLErr []string

func (g GQLErr) Error() string {
	return strings.Join(g, "\t")
}

type Introspector struct {
	client httpclient.Client
	logger log.Logger
}

func NewIntrospector(client httpclient.Client, logger log.Logger) *Introspector {
	if client == nil {
		client = httpclient.NewNetHttpClient(nil)
	}
	if logger == nil {
		logger = log.NoopLogger
	}
	return &Introspector{
		client: client,
		logger: logger,
	}
}

// Introspect fetches and parses the schema of a single service.
func (i *Introspector) Introspect(ctx context.Context, service federation.ServiceConfig) (*federation.AbstractSchema, error) {
	sdl := service.SDL
	if sdl == "" {
		var err error
		sdl, err = i.fetchServiceSDL(ctx, service)
		if err != nil {
			i.logger.Error("Introspector.Introspect",
				log.String("service", service.Name),
				log.String("url", service.URL),
				log.Error(err),
			)
			return nil, operationreport.ErrServiceUnreachableWithCause(service.Name, err)
		}
	}

	schema, err := federation.ParseServiceSDL(service.Name, sdl)
	if err != nil {
		i.logger.Error("Introspector.Introspect",
			log.String("service", service.Name),
			log.Error(err),
		)
		return nil, err
	}

	i.logger.Debug("Introspector.Introspect",
		log.String("service", service.Name),
		log.Int("types", len(schema.TypeNames)),
	)
	return schema, nil
}

// IntrospectAll introspects every service concurrently. The first failure
// cancels the remaining calls. Results keep the order of services.
func (i *Introspector) IntrospectAll(ctx context.Context, services federation.ServiceConfigs) ([]*federation.AbstractSchema, error) {
	schemas := make([]*federation.AbstractSchema, len(services))

	group, groupCtx := errgroup.WithContext(ctx)
	for index := range services {
		index := index
		group.Go(func() error {
			schema, err := i.Introspect(groupCtx, services[index])
			if err != nil {
				return err
			}
			schemas[index] = schema
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return schemas, nil
}

func (i *Introspector) fetchServiceSDL(ctx context.Context, service federation.ServiceConfig) (string, error) {
	requestInput, err := httpclient.NewGraphQLRequestInput(service.URL, service.Headers, ServiceDefinitionQuery, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := i.client.Do(ctx, requestInput, buf); err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}

	result := gjson.ParseBytes(buf.Bytes())
	if !result.IsObject() {
		return "", errors.New("decode response: response is not a JSON object")
	}

	if errs := result.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		var gqlErr GQLErr
		for _, message := range errs.Get("#.message").Array() {
			gqlErr = append(gqlErr, message.String())
		}
		return "", fmt.Errorf("response error: %w", gqlErr)
	}

	sdl := result.Get("data._service.sdl")
	if sdl.Type != gjson.String {
		return "", errors.New("decode response: data._service.sdl is missing")
	}

	return sdl.String(), nil
}
