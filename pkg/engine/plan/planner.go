package plan

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

// Planner splits client operations into per service sub-operations.
// It is safe for concurrent use.
type Planner struct {
	schema *composition.ComposedSchema
}

func NewPlanner(schema *composition.ComposedSchema) *Planner {
	return &Planner{schema: schema}
}

// Plan builds the query plan for an operation that was validated against the
// composed schema. Planning fails as a whole: no partial plan is returned.
func (p *Planner) Plan(operation *ast.OperationDefinition, fragments ast.FragmentDefinitionList) (*QueryPlan, error) {
	if operation == nil {
		return nil, operationreport.ErrInvalidOperationWithReason("no operation to plan")
	}

	var rootTypeName string
	switch operation.Operation {
	case ast.Query, "":
		rootTypeName = federation.QueryTypeName
	case ast.Mutation:
		rootTypeName = federation.MutationTypeName
	default:
		return nil, operationreport.ErrInvalidOperationWithReason(fmt.Sprintf("%s operations are not supported", operation.Operation))
	}
	if p.schema.Type(rootTypeName) == nil {
		return nil, operationreport.ErrInvalidOperationWithReason(fmt.Sprintf("schema has no %s type", rootTypeName))
	}

	b := &builder{
		schema:    p.schema,
		operation: operation,
		fragments: fragments,
		entities:  make(map[string]*subOperationBuilder),
	}
	if err := b.planRootFields(rootTypeName); err != nil {
		return nil, err
	}

	queryPlan := &QueryPlan{
		OperationType: operationType(operation),
		Operation:     operation,
		Fragments:     fragments,
		Schema:        p.schema.Schema,
	}
	for _, sub := range b.subs {
		queryPlan.SubOperations = append(queryPlan.SubOperations, sub.finish(operation))
	}
	if err := queryPlan.Validate(); err != nil {
		return nil, err
	}
	return queryPlan, nil
}

func operationType(operation *ast.OperationDefinition) ast.Operation {
	if operation.Operation == "" {
		return ast.Query
	}
	return operation.Operation
}

type subOperationBuilder struct {
	op *SubOperation
	// selections are the root fields or the content of `... on TypeName`.
	selections ast.SelectionSet
}

func (s *subOperationBuilder) finish(client *ast.OperationDefinition) *SubOperation {
	var operation *ast.OperationDefinition
	if s.op.Kind == RootKind {
		operation = rootOperation(operationType(client), client.Name, s.selections)
	} else {
		operation = entityOperation(s.op.TypeName, s.selections)
	}
	s.op.Variables = declareVariables(operation, client.VariableDefinitions)
	s.op.Operation = operation
	s.op.Document = printOperation(operation)
	return s.op
}

type builder struct {
	schema    *composition.ComposedSchema
	operation *ast.OperationDefinition
	fragments ast.FragmentDefinitionList

	subs []*subOperationBuilder
	// entities indexes entity sub-operations by parent, service, path and type.
	entities map[string]*subOperationBuilder
}

func (b *builder) newSubOperation(service string, kind Kind) *subOperationBuilder {
	sub := &subOperationBuilder{
		op: &SubOperation{
			ID:      len(b.subs),
			Service: service,
			Kind:    kind,
		},
	}
	b.subs = append(b.subs, sub)
	return sub
}

// planRootFields groups root fields by their authoritative service. Mutation
// root fields run serially: every change of service starts a new
// sub-operation ordered after everything planned before it.
func (b *builder) planRootFields(rootTypeName string) error {
	fields, err := b.collectFields(b.operation.SelectionSet, nil)
	if err != nil {
		return err
	}

	isMutation := b.operation.Operation == ast.Mutation
	byService := map[string]*subOperationBuilder{}
	var previous *subOperationBuilder

	for _, root := range fields {
		field := root.field
		if field.Name == federation.TypenameFieldName {
			continue
		}
		if strings.HasPrefix(field.Name, "__") {
			return operationreport.ErrUnresolvableFieldOn(rootTypeName, field.Name)
		}
		mergedField := b.schema.Field(rootTypeName, field.Name)
		if mergedField == nil {
			return operationreport.ErrUnresolvableFieldOn(rootTypeName, field.Name)
		}
		services := mergedField.ResolvingServices()
		if len(services) == 0 {
			return operationreport.ErrUnresolvableFieldOn(rootTypeName, field.Name)
		}
		service := services[0]

		var sub *subOperationBuilder
		switch {
		case isMutation && previous != nil && previous.op.Service == service:
			sub = previous
		case isMutation:
			planned := len(b.subs)
			sub = b.newSubOperation(service, RootKind)
			if previous != nil {
				for id := previous.op.ID; id < planned; id++ {
					sub.op.addOrdering(id)
				}
			}
		default:
			sub = byService[service]
			if sub == nil {
				sub = b.newSubOperation(service, RootKind)
				byService[service] = sub
			}
		}
		previous = sub

		planned, err := b.planField(sub, rootTypeName, field, nil, nil)
		if err != nil {
			return err
		}
		sub.selections = append(sub.selections, wrapFragments(planned, root.fragments))
		sub.op.ResponseKeys = appendUnique(sub.op.ResponseKeys, responseKey(field))
	}
	return nil
}

// rootField is a root field with the directives of the fragments it was
// selected through, outermost first.
type rootField struct {
	field     *ast.Field
	fragments []ast.DirectiveList
}

// collectFields flattens fragments whose type condition is the root type.
// Selections excluded by a literal @skip or @include are dropped, so they are
// never sent. Conditions on variables stay on the selection.
func (b *builder) collectFields(selections ast.SelectionSet, fragments []ast.DirectiveList) ([]rootField, error) {
	var out []rootField
	for _, selection := range selections {
		switch s := selection.(type) {
		case *ast.Field:
			if excluded(s.Directives) {
				continue
			}
			out = append(out, rootField{field: s, fragments: fragments})
		case *ast.InlineFragment:
			if excluded(s.Directives) {
				continue
			}
			fields, err := b.collectFields(s.SelectionSet, withDirectives(fragments, s.Directives))
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		case *ast.FragmentSpread:
			fragment := b.fragments.ForName(s.Name)
			if fragment == nil {
				return nil, operationreport.ErrInvalidOperationWithReason(fmt.Sprintf("unknown fragment %q", s.Name))
			}
			if excluded(s.Directives) {
				continue
			}
			fields, err := b.collectFields(fragment.SelectionSet, withDirectives(fragments, s.Directives))
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		}
	}
	return out, nil
}

func withDirectives(fragments []ast.DirectiveList, directives ast.DirectiveList) []ast.DirectiveList {
	if len(directives) == 0 {
		return fragments
	}
	out := make([]ast.DirectiveList, 0, len(fragments)+1)
	return append(append(out, fragments...), directives)
}

// wrapFragments nests field in inline fragments carrying the directives of
// the fragments it was selected through.
func wrapFragments(field *ast.Field, fragments []ast.DirectiveList) ast.Selection {
	var selection ast.Selection = field
	for i := len(fragments) - 1; i >= 0; i-- {
		selection = &ast.InlineFragment{
			Directives:   fragments[i],
			SelectionSet: ast.SelectionSet{selection},
		}
	}
	return selection
}

// excluded reports whether directives skip the selection regardless of variables.
func excluded(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil && literalCondition(skip) == "true" {
		return true
	}
	if include := directives.ForName("include"); include != nil && literalCondition(include) == "false" {
		return true
	}
	return false
}

func literalCondition(directive *ast.Directive) string {
	argument := directive.Arguments.ForName("if")
	if argument == nil || argument.Value == nil || argument.Value.Kind != ast.BooleanValue {
		return ""
	}
	return argument.Value.Raw
}

// planField copies field into sub and plans its selection set.
// The caller has checked that sub's service resolves the field.
func (b *builder) planField(sub *subOperationBuilder, parentTypeName string, field *ast.Field, path []string, provides federation.FieldSet) (*ast.Field, error) {
	out := &ast.Field{
		Alias:      responseKey(field),
		Name:       field.Name,
		Arguments:  field.Arguments,
		Directives: field.Directives,
	}
	if len(field.SelectionSet) == 0 {
		return out, nil
	}

	mergedField := b.schema.Field(parentTypeName, field.Name)
	if mergedField == nil {
		return nil, operationreport.ErrUnresolvableFieldOn(parentTypeName, field.Name)
	}
	var childProvides federation.FieldSet
	if owner, ok := mergedField.Owner(sub.op.Service); ok {
		childProvides = owner.Provides
	}

	selections, err := b.planSelectionSet(sub, mergedField.Type.Name(), field.SelectionSet, appendPath(path, responseKey(field)), childProvides)
	if err != nil {
		return nil, err
	}
	out.SelectionSet = selections
	return out, nil
}

func (b *builder) planSelectionSet(sub *subOperationBuilder, typeName string, selections ast.SelectionSet, path []string, provides federation.FieldSet) (ast.SelectionSet, error) {
	var out ast.SelectionSet
	if mergedType := b.schema.Type(typeName); mergedType != nil && isAbstract(mergedType.Kind) {
		out = appendLeafField(out, federation.TypenameFieldName)
	}

	for _, selection := range selections {
		var err error
		switch s := selection.(type) {
		case *ast.Field:
			var planned ast.SelectionSet
			planned, err = b.planNestedField(sub, typeName, s, path, provides)
			for _, plannedSelection := range planned {
				if field, ok := plannedSelection.(*ast.Field); ok && isHelperField(field) {
					out = appendLeafField(out, field.Name)
					continue
				}
				out = append(out, plannedSelection)
			}
		case *ast.InlineFragment:
			out, err = b.planFragment(sub, typeName, s.TypeCondition, s.Directives, s.SelectionSet, path, provides, out)
		case *ast.FragmentSpread:
			fragment := b.fragments.ForName(s.Name)
			if fragment == nil {
				return nil, operationreport.ErrInvalidOperationWithReason(fmt.Sprintf("unknown fragment %q", s.Name))
			}
			out, err = b.planFragment(sub, typeName, fragment.TypeCondition, s.Directives, fragment.SelectionSet, path, provides, out)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *builder) planFragment(sub *subOperationBuilder, typeName, typeCondition string, directives ast.DirectiveList,
	selections ast.SelectionSet, path []string, provides federation.FieldSet, out ast.SelectionSet) (ast.SelectionSet, error) {

	if typeCondition == "" || typeCondition == typeName {
		planned, err := b.planSelectionSet(sub, typeName, selections, path, provides)
		if err != nil {
			return nil, err
		}
		if len(directives) == 0 {
			return append(out, planned...), nil
		}
		return append(out, &ast.InlineFragment{Directives: directives, SelectionSet: planned}), nil
	}

	conditionType := b.schema.Type(typeCondition)
	if conditionType == nil || !conditionType.DeclaredBy(sub.op.Service) {
		// the service cannot return objects of a type it does not know
		return out, nil
	}
	planned, err := b.planSelectionSet(sub, typeCondition, selections, path, provides)
	if err != nil {
		return nil, err
	}
	return append(out, &ast.InlineFragment{
		TypeCondition: typeCondition,
		Directives:    directives,
		SelectionSet:  planned,
	}), nil
}

// planNestedField returns what sub selects for field: the field itself, or
// the fields an entity sub-operation needs to resolve it elsewhere.
func (b *builder) planNestedField(sub *subOperationBuilder, typeName string, field *ast.Field, path []string, provides federation.FieldSet) (ast.SelectionSet, error) {
	if field.Name == federation.TypenameFieldName {
		return ast.SelectionSet{&ast.Field{Alias: responseKey(field), Name: field.Name, Directives: field.Directives}}, nil
	}
	if strings.HasPrefix(field.Name, "__") {
		return nil, operationreport.ErrUnresolvableFieldOn(typeName, field.Name)
	}
	mergedField := b.schema.Field(typeName, field.Name)
	if mergedField == nil {
		return nil, operationreport.ErrUnresolvableFieldOn(typeName, field.Name)
	}

	if b.canResolve(sub.op.Service, typeName, mergedField, provides) {
		planned, err := b.planField(sub, typeName, field, path, provides)
		if err != nil {
			return nil, err
		}
		return ast.SelectionSet{planned}, nil
	}

	target, err := b.entityService(typeName, mergedField)
	if err != nil {
		return nil, err
	}
	entity := b.entitySubOperation(sub, typeName, target, path)

	planned, err := b.planField(entity, typeName, field, path, nil)
	if err != nil {
		return nil, err
	}
	entity.selections = append(entity.selections, planned)
	entity.op.ResponseKeys = appendUnique(entity.op.ResponseKeys, responseKey(field))

	out, err := b.representationFields(sub, typeName, entity.op.KeyFields, provides)
	if err != nil {
		return nil, err
	}

	owner, _ := mergedField.Owner(target)
	for _, required := range owner.Requires {
		requiredFields, err := b.require(sub, entity, typeName, required, path, provides)
		if err != nil {
			return nil, err
		}
		out = append(out, requiredFields...)
	}
	return out, nil
}

// require makes the @requires field available in the representations of
// entity. It is either selected by the parent or fetched by another entity
// sub-operation that entity then depends on.
func (b *builder) require(sub, entity *subOperationBuilder, typeName, required string, path []string, provides federation.FieldSet) (ast.SelectionSet, error) {
	requiredField := b.schema.Field(typeName, required)
	if requiredField == nil {
		return nil, operationreport.ErrUnresolvableFieldOn(typeName, required)
	}
	entity.op.RequiredFields = appendUnique(entity.op.RequiredFields, required)

	if b.canResolve(sub.op.Service, typeName, requiredField, provides) {
		return ast.SelectionSet{newLeafField(required)}, nil
	}

	service, err := b.entityService(typeName, requiredField)
	if err != nil {
		return nil, err
	}
	if service == entity.op.Service {
		return nil, operationreport.ErrUnresolvableFieldOn(typeName, required)
	}
	provider := b.entitySubOperation(sub, typeName, service, path)
	provider.selections = appendLeafField(provider.selections, required)
	entity.op.addDependency(provider.op.ID)

	return b.representationFields(sub, typeName, provider.op.KeyFields, provides)
}

// entitySubOperation returns the entity sub-operation of service for the
// objects of typeName at path that parent returns.
func (b *builder) entitySubOperation(parent *subOperationBuilder, typeName, service string, path []string) *subOperationBuilder {
	key := fmt.Sprintf("%d/%s/%s/%s", parent.op.ID, service, strings.Join(path, "."), typeName)
	if entity, ok := b.entities[key]; ok {
		return entity
	}

	owner, _ := b.schema.EntityOwner(typeName, service)
	entity := b.newSubOperation(service, EntityKind)
	entity.op.TypeName = typeName
	entity.op.KeyFields = owner.KeyFields
	entity.op.BindingPath = appendPath(path)
	entity.op.addDependency(parent.op.ID)
	b.entities[key] = entity
	return entity
}

// representationFields are the fields parent selects so that entity
// representations can be built from its result.
func (b *builder) representationFields(parent *subOperationBuilder, typeName string, keyFields federation.FieldSet, provides federation.FieldSet) (ast.SelectionSet, error) {
	out := ast.SelectionSet{newLeafField(federation.TypenameFieldName)}
	for _, keyField := range keyFields {
		mergedField := b.schema.Field(typeName, keyField)
		if mergedField == nil || !b.canResolve(parent.op.Service, typeName, mergedField, provides) {
			return nil, operationreport.ErrUnresolvableFieldOn(typeName, keyField)
		}
		out = append(out, newLeafField(keyField))
	}
	return out, nil
}

// entityService picks the authoritative service for a field that the current
// service cannot resolve. Only entity owners can be reached through `_entities`.
func (b *builder) entityService(typeName string, field *composition.MergedField) (string, error) {
	for _, service := range field.ResolvingServices() {
		if _, ok := b.schema.EntityOwner(typeName, service); ok {
			return service, nil
		}
	}
	return "", operationreport.ErrUnresolvableFieldOn(typeName, field.Name)
}

// canResolve reports whether service returns field for objects of typeName:
// non-external declarations, @provides on the parent field and the key fields
// of the service's own @key declaration.
func (b *builder) canResolve(service, typeName string, field *composition.MergedField, provides federation.FieldSet) bool {
	if field.ResolvableBy(service) {
		return true
	}
	if _, declared := field.Owner(service); !declared {
		return false
	}
	if provides.Contains(field.Name) {
		return true
	}
	owner, ok := b.schema.EntityOwner(typeName, service)
	return ok && owner.KeyFields.Contains(field.Name)
}

func isAbstract(kind ast.DefinitionKind) bool {
	return kind == ast.Interface || kind == ast.Union
}

func responseKey(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

func newLeafField(name string) *ast.Field {
	return &ast.Field{Alias: name, Name: name}
}

func isHelperField(field *ast.Field) bool {
	return field.Alias == field.Name && len(field.Arguments) == 0 && len(field.Directives) == 0 && len(field.SelectionSet) == 0
}

// appendLeafField adds an unaliased leaf field unless it is already selected.
func appendLeafField(selections ast.SelectionSet, name string) ast.SelectionSet {
	for _, selection := range selections {
		if field, ok := selection.(*ast.Field); ok && isHelperField(field) && field.Name == name {
			return selections
		}
	}
	return append(selections, newLeafField(name))
}

func appendPath(path []string, elements ...string) []string {
	out := make([]string, 0, len(path)+len(elements))
	out = append(out, path...)
	return append(out, elements...)
}

func appendUnique(dst []string, values ...string) []string {
	for _, value := range values {
		found := false
		for _, existing := range dst {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, value)
		}
	}
	return dst
}
