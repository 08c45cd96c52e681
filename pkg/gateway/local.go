package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

type ResolverFunc func(ctx context.Context, parent map[string]interface{}, args map[string]interface{}) (interface{}, error)

// Resolvers maps type name to field name to resolver.
type Resolvers map[string]map[string]ResolverFunc

// LoaderQuery is one field resolution batched into a loader call.
type LoaderQuery struct {
	Parent map[string]interface{}
	Args   map[string]interface{}
}

// LoaderFunc resolves a batch of queries for one field, returning one
// result per query in order.
type LoaderFunc func(ctx context.Context, queries []LoaderQuery) ([]interface{}, error)

// Loaders maps type name to field name to loader.
type Loaders map[string]map[string]LoaderFunc

// LocalOperation is a validated client operation against a local schema.
type LocalOperation struct {
	Schema    *ast.Schema
	Document  *ast.QueryDocument
	Operation *ast.OperationDefinition
	Variables map[string]interface{}
	Resolvers Resolvers
	Loaders   Loaders
}

// LocalExecutor runs operations of a local runtime. It is supplied by the host.
type LocalExecutor interface {
	ExecuteLocal(ctx context.Context, operation *LocalOperation) *Response
}

type LocalExecutorFunc func(ctx context.Context, operation *LocalOperation) *Response

func (f LocalExecutorFunc) ExecuteLocal(ctx context.Context, operation *LocalOperation) *Response {
	return f(ctx, operation)
}

// LocalRuntime owns a locally authored schema. Its schema, resolvers and
// loaders may be changed at any time.
type LocalRuntime struct {
	mu        sync.RWMutex
	sources   []*ast.Source
	schema    *ast.Schema
	resolvers Resolvers
	loaders   Loaders
	executor  LocalExecutor
}

var errNoLocalExecutor = errors.New("no local executor configured")

func NewLocalRuntime(sdl string, executor LocalExecutor) (*LocalRuntime, error) {
	sources := []*ast.Source{{Name: "local", Input: sdl}}
	schema, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, fmt.Errorf("load local schema: %w", err)
	}
	return &LocalRuntime{
		sources:   sources,
		schema:    schema,
		resolvers: Resolvers{},
		loaders:   Loaders{},
		executor:  executor,
	}, nil
}

func (l *LocalRuntime) Mode() Mode {
	return ModeLocal
}

// Schema returns the current local schema.
func (l *LocalRuntime) Schema() *ast.Schema {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.schema
}

// ExtendSchema adds type definitions or extensions to the local schema.
// An invalid extension leaves the schema unchanged.
func (l *LocalRuntime) ExtendSchema(sdl string) error {
	if err := guard(l.Mode(), ExtendSchemaOperation); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	source := &ast.Source{
		Name:  fmt.Sprintf("extension-%d", len(l.sources)),
		Input: sdl,
	}
	document, err := parser.ParseSchema(source)
	if err != nil {
		return fmt.Errorf("extend local schema: %w", err)
	}
	for _, extension := range document.Extensions {
		if l.schema.Types[extension.Name] == nil && document.Definitions.ForName(extension.Name) == nil {
			return fmt.Errorf("extend local schema: type %q is not defined in the local schema", extension.Name)
		}
	}

	sources := append(append([]*ast.Source{}, l.sources...), source)
	schema, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return fmt.Errorf("extend local schema: %w", err)
	}
	l.sources = sources
	l.schema = schema
	return nil
}

func (l *LocalRuntime) DefineResolvers(resolvers Resolvers) error {
	if err := guard(l.Mode(), DefineResolversOperation); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for typeName, fields := range resolvers {
		for fieldName := range fields {
			if err := l.checkField(typeName, fieldName); err != nil {
				return err
			}
		}
	}
	for typeName, fields := range resolvers {
		if l.resolvers[typeName] == nil {
			l.resolvers[typeName] = map[string]ResolverFunc{}
		}
		for fieldName, resolver := range fields {
			l.resolvers[typeName][fieldName] = resolver
		}
	}
	return nil
}

func (l *LocalRuntime) DefineLoaders(loaders Loaders) error {
	if err := guard(l.Mode(), DefineLoadersOperation); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for typeName, fields := range loaders {
		for fieldName := range fields {
			if err := l.checkField(typeName, fieldName); err != nil {
				return err
			}
		}
	}
	for typeName, fields := range loaders {
		if l.loaders[typeName] == nil {
			l.loaders[typeName] = map[string]LoaderFunc{}
		}
		for fieldName, loader := range fields {
			l.loaders[typeName][fieldName] = loader
		}
	}
	return nil
}

func (l *LocalRuntime) checkField(typeName, fieldName string) error {
	definition := l.schema.Types[typeName]
	if definition == nil {
		return fmt.Errorf("type %q is not defined in the local schema", typeName)
	}
	if definition.Fields.ForName(fieldName) == nil {
		return fmt.Errorf("field %q is not defined on type %q", fieldName, typeName)
	}
	return nil
}

// Execute validates request against the local schema and hands it to the
// local executor.
func (l *LocalRuntime) Execute(ctx context.Context, request Request) *Response {
	l.mu.RLock()
	operation := &LocalOperation{
		Schema:    l.schema,
		Resolvers: copyRegistry(l.resolvers),
		Loaders:   copyRegistry(l.loaders),
	}
	executor := l.executor
	l.mu.RUnlock()

	if executor == nil {
		return errorResponse(errNoLocalExecutor)
	}

	document, errs := gqlparser.LoadQuery(operation.Schema, request.Query)
	if len(errs) > 0 {
		return errorResponse(errs)
	}
	selected, err := selectOperation(document, request.OperationName)
	if err != nil {
		return errorResponse(err)
	}
	variables, err := validator.VariableValues(operation.Schema, selected, request.Variables)
	if err != nil {
		return errorResponse(err)
	}

	operation.Document = document
	operation.Operation = selected
	operation.Variables = variables
	return executor.ExecuteLocal(ctx, operation)
}

func copyRegistry[T any](registry map[string]map[string]T) map[string]map[string]T {
	out := make(map[string]map[string]T, len(registry))
	for typeName, fields := range registry {
		out[typeName] = make(map[string]T, len(fields))
		for fieldName, value := range fields {
			out[typeName][fieldName] = value
		}
	}
	return out
}
