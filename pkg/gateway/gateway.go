// Package gateway assembles a federated schema from remote services and
// serves client operations against it.
//
// A Runtime is either local, owning a hand written schema with resolvers and
// loaders, or a gateway, whose schema is owned by composition. A gateway
// rejects every local schema mutation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"go.uber.org/atomic"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/datasource/httpclient"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/resolve"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/introspection"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

type Mode int

const (
	ModeLocal Mode = iota + 1
	ModeGateway
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeGateway:
		return "gateway"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Names of the local schema mutation APIs as reported in mode violations.
const (
	DefineLoadersOperation   = "defineLoaders"
	DefineResolversOperation = "defineResolvers"
	ExtendSchemaOperation    = "extendSchema"
)

// Request is a client GraphQL request.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type Response = resolve.MergedResult

// Runtime is what a host binds to serve GraphQL.
type Runtime interface {
	DefineLoaders(loaders Loaders) error
	DefineResolvers(resolvers Resolvers) error
	ExtendSchema(sdl string) error
	Execute(ctx context.Context, request Request) *Response
	Mode() Mode
}

var (
	_ Runtime = (*Gateway)(nil)
	_ Runtime = (*LocalRuntime)(nil)
)

// Host receives the runtime of a created gateway.
type Host interface {
	Bind(runtime Runtime) error
}

type HostFunc func(runtime Runtime) error

func (h HostFunc) Bind(runtime Runtime) error {
	return h(runtime)
}

type Config struct {
	Services federation.ServiceConfigs `mapstructure:"services" yaml:"services"`
	// PollingInterval enables periodic re-introspection when positive.
	PollingInterval time.Duration `mapstructure:"polling_interval" yaml:"polling_interval,omitempty"`
	PlanCacheSize   int           `mapstructure:"plan_cache_size" yaml:"plan_cache_size,omitempty"`
}

const defaultPlanCacheSize = 256

type Option func(g *Gateway)

func WithLogger(logger log.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithHttpClient(client httpclient.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// state is everything derived from one composition. It is replaced as a
// whole when the services change their schemas.
type state struct {
	composed *composition.ComposedSchema
	planner  *plan.Planner
	plans    *planCache
}

type Gateway struct {
	config       Config
	logger       log.Logger
	client       httpclient.Client
	introspector *introspection.Introspector
	executor     *resolve.Executor

	state    atomic.Pointer[state]
	reloadMu sync.Mutex

	mu       sync.Mutex
	onChange []func(composed *composition.ComposedSchema)

	closed atomic.Bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

var errNoServices = errors.New("at least one service must be configured")

// CreateGateway introspects and composes the configured services and binds
// the resulting gateway to host. Any composition error fails the creation.
func CreateGateway(ctx context.Context, config Config, host Host, opts ...Option) (*Gateway, error) {
	if len(config.Services) == 0 {
		return nil, errNoServices
	}
	if err := config.Services.Validate(); err != nil {
		return nil, err
	}
	config.Services = config.Services.Clone()
	if config.PlanCacheSize <= 0 {
		config.PlanCacheSize = defaultPlanCacheSize
	}

	g := &Gateway{
		config: config,
		logger: log.NoopLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = httpclient.NewNetHttpClient(nil)
	}
	g.introspector = introspection.NewIntrospector(g.client, g.logger)
	g.executor = resolve.NewExecutor(g.client, config.Services, g.logger)

	next, err := g.compose(ctx)
	if err != nil {
		return nil, err
	}
	g.state.Store(next)

	g.logger.Info("Gateway.CreateGateway",
		log.Int("services", len(config.Services)),
		log.Int("types", len(next.composed.TypeNames)),
	)

	if host != nil {
		if err := host.Bind(g); err != nil {
			return nil, fmt.Errorf("bind gateway: %w", err)
		}
	}

	if config.PollingInterval > 0 {
		// ctx only bounds construction, polling runs until Close.
		g.StartPolling(context.Background(), config.PollingInterval)
	}
	return g, nil
}

func (g *Gateway) compose(ctx context.Context) (*state, error) {
	schemas, err := g.introspector.IntrospectAll(ctx, g.config.Services)
	if err != nil {
		return nil, err
	}
	composed, err := composition.Compose(schemas)
	if err != nil {
		return nil, err
	}
	plans, err := newPlanCache(g.config.PlanCacheSize)
	if err != nil {
		return nil, err
	}
	return &state{
		composed: composed,
		planner:  plan.NewPlanner(composed),
		plans:    plans,
	}, nil
}

func (g *Gateway) Mode() Mode {
	return ModeGateway
}

func (g *Gateway) Runtime() Runtime {
	return g
}

// Schema returns the current composed schema.
func (g *Gateway) Schema() *composition.ComposedSchema {
	return g.state.Load().composed
}

func (g *Gateway) DefineLoaders(_ Loaders) error {
	return guard(g.Mode(), DefineLoadersOperation)
}

func (g *Gateway) DefineResolvers(_ Resolvers) error {
	return guard(g.Mode(), DefineResolversOperation)
}

func (g *Gateway) ExtendSchema(_ string) error {
	return guard(g.Mode(), ExtendSchemaOperation)
}

// guard rejects local schema mutations outside of local mode.
func guard(mode Mode, operationName string) error {
	if mode != ModeLocal {
		return operationreport.ErrGatewayModeViolationFor(operationName)
	}
	return nil
}

// OnSchemaChange registers fn to be called after every successful reload
// that changed the composed schema.
func (g *Gateway) OnSchemaChange(fn func(composed *composition.ComposedSchema)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = append(g.onChange, fn)
}

// Execute validates request against the composed schema, plans it and runs
// the plan. Plans are cached per query and operation name.
func (g *Gateway) Execute(ctx context.Context, request Request) *Response {
	current := g.state.Load()

	queryPlan, err := current.plans.load(request.Query, request.OperationName, func() (*plan.QueryPlan, error) {
		return prepare(current, request)
	})
	if err != nil {
		return errorResponse(err)
	}

	variables, err := validator.VariableValues(queryPlan.Schema, queryPlan.Operation, request.Variables)
	if err != nil {
		return errorResponse(err)
	}

	g.logger.Debug("Gateway.Execute",
		log.String("operationName", request.OperationName),
		log.Int("subOperations", len(queryPlan.SubOperations)),
	)
	return g.executor.Execute(ctx, queryPlan, variables)
}

func prepare(current *state, request Request) (*plan.QueryPlan, error) {
	document, errs := gqlparser.LoadQuery(current.composed.Schema, request.Query)
	if len(errs) > 0 {
		return nil, errs
	}
	operation, err := selectOperation(document, request.OperationName)
	if err != nil {
		return nil, err
	}
	return current.planner.Plan(operation, document.Fragments)
}

func selectOperation(document *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if operationName != "" {
		operation := document.Operations.ForName(operationName)
		if operation == nil {
			return nil, operationreport.ErrInvalidOperationWithReason(fmt.Sprintf("unknown operation %q", operationName))
		}
		return operation, nil
	}
	if len(document.Operations) != 1 {
		return nil, operationreport.ErrInvalidOperationWithReason("operationName is required for documents with multiple operations")
	}
	return document.Operations[0], nil
}

func errorResponse(err error) *Response {
	report := &operationreport.Report{}

	var gqlErrors gqlerror.List
	var gqlError *gqlerror.Error
	switch {
	case errors.As(err, &gqlErrors):
		for _, e := range gqlErrors {
			report.AddExternalError(invalidOperation(e))
		}
	case errors.As(err, &gqlError):
		report.AddExternalError(invalidOperation(gqlError))
	default:
		report.AddError(err)
	}

	return &Response{Errors: report.ExternalErrors}
}

// invalidOperation classifies a validation error of the client operation.
func invalidOperation(err *gqlerror.Error) operationreport.ExternalError {
	external := operationreport.ExternalErrorFromGQLError(err)
	extensions := operationreport.ErrInvalidOperation.Extensions()
	for key, value := range external.Extensions {
		extensions[key] = value
	}
	external.Extensions = extensions
	return external
}
