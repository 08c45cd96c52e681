// Package resolve executes query plans against federated services and merges
// the partial results into one GraphQL response.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/buger/jsonparser"
	log "github.com/jensneuse/abstractlogger"
	"github.com/tidwall/sjson"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/datasource/httpclient"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

// MergedResult is the GraphQL response of one client operation.
type MergedResult struct {
	Data   json.RawMessage                 `json:"data"`
	Errors []operationreport.ExternalError `json:"errors,omitempty"`
}

// Executor runs the sub-operations of a plan. Independent sub-operations run
// concurrently, dependent ones strictly after all of their dependencies.
// Failed calls are never retried.
type Executor struct {
	client   httpclient.Client
	services map[string]federation.ServiceConfig
	logger   log.Logger
}

func NewExecutor(client httpclient.Client, services federation.ServiceConfigs, logger log.Logger) *Executor {
	if client == nil {
		client = httpclient.NewNetHttpClient(nil)
	}
	if logger == nil {
		logger = log.NoopLogger
	}
	byName := make(map[string]federation.ServiceConfig, len(services))
	for _, service := range services {
		byName[service.Name] = service
	}
	return &Executor{
		client:   client,
		services: byName,
		logger:   logger,
	}
}

type subOperationState struct {
	done   chan struct{}
	failed bool
	// errors are rendered in plan order once every sub-operation finished.
	errors []operationreport.ExternalError
}

type execution struct {
	queryPlan *plan.QueryPlan
	variables map[string]interface{}

	// mu guards data: sibling sub-operations merge into shared parent objects.
	mu   sync.Mutex
	data map[string]interface{}

	states map[int]*subOperationState
}

// Execute runs queryPlan and shapes the merged data like the client operation.
// A failing sub-operation nulls its fields and fails its dependents, siblings
// are unaffected. Cancelling ctx stops issuing further calls.
func (e *Executor) Execute(ctx context.Context, queryPlan *plan.QueryPlan, variables map[string]interface{}) *MergedResult {
	run := &execution{
		queryPlan: queryPlan,
		variables: variables,
		data:      map[string]interface{}{},
		states:    make(map[int]*subOperationState, len(queryPlan.SubOperations)),
	}
	for _, subOperation := range queryPlan.SubOperations {
		run.states[subOperation.ID] = &subOperationState{done: make(chan struct{})}
	}

	wg := &sync.WaitGroup{}
	for _, subOperation := range queryPlan.SubOperations {
		wg.Add(1)
		go func(subOperation *plan.SubOperation) {
			defer wg.Done()
			e.executeSubOperation(ctx, run, subOperation)
		}(subOperation)
	}
	wg.Wait()

	report := &operationreport.Report{}
	for _, subOperation := range queryPlan.SubOperations {
		for _, external := range run.states[subOperation.ID].errors {
			report.AddExternalError(external)
		}
	}

	data, err := writeResponse(queryPlan, run.data, variables)
	if err != nil {
		report.AddInternalError(fmt.Errorf("write response: %w", err))
	}
	return e.mergedResult(data, report)
}

// mergedResult logs internal errors and reports them to the client as one
// generic error without data.
func (e *Executor) mergedResult(data json.RawMessage, report *operationreport.Report) *MergedResult {
	for _, internal := range report.InternalErrors {
		e.logger.Error("Executor.Execute", log.Error(internal))
	}
	if len(report.InternalErrors) > 0 {
		data = nil
	}
	return &MergedResult{
		Data:   data,
		Errors: report.ClientErrors(),
	}
}

func (e *Executor) executeSubOperation(ctx context.Context, run *execution, subOperation *plan.SubOperation) {
	state := run.states[subOperation.ID]
	defer close(state.done)

	for _, predecessor := range subOperation.After {
		<-run.states[predecessor].done
	}
	for _, dependency := range subOperation.DependsOn {
		dependencyState := run.states[dependency]
		<-dependencyState.done
		if dependencyState.failed {
			e.fail(run, subOperation, operationreport.ErrSubOperationSkipped(subOperation.Service, dependency))
			return
		}
	}

	if err := ctx.Err(); err != nil {
		e.fail(run, subOperation, operationreport.ErrSubOperationFailed(subOperation.Service, err))
		return
	}

	var err error
	switch subOperation.Kind {
	case plan.EntityKind:
		err = e.executeEntities(ctx, run, subOperation)
	default:
		err = e.executeRoot(ctx, run, subOperation)
	}
	if err != nil {
		e.fail(run, subOperation, operationreport.ErrSubOperationFailed(subOperation.Service, err))
	}
}

// fail reports err at every field subOperation would have written.
func (e *Executor) fail(run *execution, subOperation *plan.SubOperation, err error) {
	e.logger.Error("Executor.Execute",
		log.Int("subOperation", subOperation.ID),
		log.String("service", subOperation.Service),
		log.String("path", subOperation.BindingPathString()),
		log.Error(err),
	)

	state := run.states[subOperation.ID]
	state.failed = true

	report := &operationreport.Report{}
	if len(subOperation.ResponseKeys) == 0 {
		report.AddError(err, pathOf(subOperation.BindingPath)...)
	}
	for _, key := range subOperation.ResponseKeys {
		report.AddError(err, pathOf(subOperation.BindingPath, key)...)
	}
	state.errors = append(state.errors, report.ExternalErrors...)
}

func (e *Executor) executeRoot(ctx context.Context, run *execution, subOperation *plan.SubOperation) error {
	variables, err := e.subOperationVariables(run, subOperation)
	if err != nil {
		return err
	}

	data, err := e.call(ctx, run, subOperation, variables)
	if err != nil {
		return err
	}

	var object map[string]interface{}
	if err := decode(data, &object); err != nil {
		return err
	}

	run.mu.Lock()
	mergeObjects(run.data, object)
	run.mu.Unlock()
	return nil
}

func (e *Executor) executeEntities(ctx context.Context, run *execution, subOperation *plan.SubOperation) error {
	run.mu.Lock()
	targets := collectObjects(run.data, subOperation.BindingPath, subOperation.TypeName)
	representations := make([]interface{}, 0, len(targets))
	objects := make([]map[string]interface{}, 0, len(targets))
	for _, target := range targets {
		representation, ok := buildRepresentation(target, subOperation)
		if !ok {
			continue
		}
		representations = append(representations, representation)
		objects = append(objects, target)
	}
	run.mu.Unlock()

	if len(representations) == 0 {
		return nil
	}

	variables, err := e.subOperationVariables(run, subOperation)
	if err != nil {
		return err
	}
	variables, err = sjson.SetBytes(variables, plan.RepresentationsVariableName, representations)
	if err != nil {
		return fmt.Errorf("set representations: %w", err)
	}

	data, err := e.call(ctx, run, subOperation, variables)
	if err != nil {
		return err
	}

	entitiesData, dataType, _, err := jsonparser.Get(data, federation.EntitiesFieldName)
	if err != nil || dataType != jsonparser.Array {
		return errors.New("response has no _entities list")
	}
	var entities []interface{}
	if err := decode(entitiesData, &entities); err != nil {
		return err
	}
	if len(entities) != len(objects) {
		return fmt.Errorf("service returned %d entities for %d representations", len(entities), len(objects))
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	for i, entity := range entities {
		if object, ok := entity.(map[string]interface{}); ok {
			mergeObjects(objects[i], object)
		}
	}
	return nil
}

// call sends the sub-operation and returns the data object of the response.
// Service errors next to data are forwarded; errors without data fail the call.
func (e *Executor) call(ctx context.Context, run *execution, subOperation *plan.SubOperation, variables []byte) ([]byte, error) {
	service, ok := e.services[subOperation.Service]
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for service %q", subOperation.Service)
	}

	requestInput, err := httpclient.NewGraphQLRequestInput(service.URL, service.Headers, subOperation.Document, variables)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	e.logger.Debug("Executor.Execute",
		log.Int("subOperation", subOperation.ID),
		log.String("service", subOperation.Service),
		log.String("kind", subOperation.Kind.String()),
	)

	buf := &bytes.Buffer{}
	if err := e.client.Do(ctx, requestInput, buf); err != nil {
		return nil, err
	}
	response := buf.Bytes()

	upstreamErrors := responseErrors(response, subOperation)
	data, dataType, _, _ := jsonparser.Get(response, "data")
	if dataType != jsonparser.Object {
		if len(upstreamErrors) > 0 {
			return nil, upstreamErrors
		}
		return nil, errors.New("response has no data")
	}

	if len(upstreamErrors) > 0 {
		state := run.states[subOperation.ID]
		for _, message := range upstreamErrors {
			state.errors = append(state.errors, operationreport.ExternalError{
				Message:    message,
				Path:       pathOf(subOperation.BindingPath),
				Extensions: map[string]interface{}{"serviceName": subOperation.Service},
			})
		}
	}
	return data, nil
}

// serviceErrors holds the messages of a service's errors array.
type serviceErrors []string

func (s serviceErrors) Error() string {
	if len(s) == 1 {
		return s[0]
	}
	return fmt.Sprintf("%s (and %d more errors)", s[0], len(s)-1)
}

func responseErrors(response []byte, subOperation *plan.SubOperation) serviceErrors {
	var out serviceErrors
	_, _ = jsonparser.ArrayEach(response, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
		message, getErr := jsonparser.GetString(value, "message")
		if getErr != nil {
			message = fmt.Sprintf("service %q returned an error without message", subOperation.Service)
		}
		out = append(out, message)
	}, "errors")
	return out
}

func (e *Executor) subOperationVariables(run *execution, subOperation *plan.SubOperation) ([]byte, error) {
	variables := []byte(`{}`)
	for _, name := range subOperation.Variables {
		value, ok := run.variables[name]
		if !ok {
			continue
		}
		var err error
		variables, err = sjson.SetBytes(variables, name, value)
		if err != nil {
			return nil, fmt.Errorf("set variable %q: %w", name, err)
		}
	}
	return variables, nil
}

func decode(data []byte, out interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func pathOf(bindingPath []string, keys ...string) []interface{} {
	out := make([]interface{}, 0, len(bindingPath)+len(keys))
	for _, element := range bindingPath {
		out = append(out, element)
	}
	for _, key := range keys {
		out = append(out, key)
	}
	return out
}
