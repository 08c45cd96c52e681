package federation

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

const (
	ServiceFieldName  = "_service"
	EntitiesFieldName = "_entities"
	TypenameFieldName = "__typename"

	QueryTypeName        = "Query"
	MutationTypeName     = "Mutation"
	SubscriptionTypeName = "Subscription"
)

// plumbing types every federated service exposes for the gateway only.
var federationTypeNames = map[string]struct{}{
	"_Service":  {},
	"_Any":      {},
	"_Entity":   {},
	"_FieldSet": {},
}

// AbstractSchema is the parsed schema of one federated service.
type AbstractSchema struct {
	ServiceName string
	SDL         string
	// Types holds one entry per type name, definitions and extensions of
	// the same service folded together.
	Types map[string]*TypeDefinition
	// TypeNames lists Types in document order.
	TypeNames  []string
	Directives ast.DirectiveDefinitionList
}

// Type returns the definition for name or nil.
func (s *AbstractSchema) Type(name string) *TypeDefinition {
	return s.Types[name]
}

// Entities returns the names of all @key annotated types in document order.
func (s *AbstractSchema) Entities() []string {
	var out []string
	for _, name := range s.TypeNames {
		if s.Types[name].IsEntity() {
			out = append(out, name)
		}
	}
	return out
}

type TypeDefinition struct {
	Name        string
	Kind        ast.DefinitionKind
	Description string
	// Extension is true when the service only extends a type owned elsewhere.
	Extension       bool
	KeyFields       FieldSet
	AlternativeKeys []FieldSet
	Fields          []*FieldDefinition
	Interfaces      []string
	UnionMembers    []string
	EnumValues      ast.EnumValueList
	Directives      ast.DirectiveList
}

func (t *TypeDefinition) IsEntity() bool {
	return len(t.KeyFields) > 0
}

func (t *TypeDefinition) Field(name string) *FieldDefinition {
	for _, field := range t.Fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

type FieldDefinition struct {
	Name         string
	Description  string
	Type         *ast.Type
	Arguments    ast.ArgumentDefinitionList
	DefaultValue *ast.Value
	Directives   ast.DirectiveList
	External     bool
	Requires     FieldSet
	Provides     FieldSet
}

// ParseServiceSDL parses the schema document a service returned from `_service { sdl }`.
// Federation directives are not declared by most services, so the document is
// parsed but not validated.
func ParseServiceSDL(serviceName, sdl string) (*AbstractSchema, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: serviceName, Input: sdl})
	if err != nil {
		return nil, operationreport.ErrSchemaParse(serviceName, err)
	}

	schema := &AbstractSchema{
		ServiceName: serviceName,
		SDL:         sdl,
		Types:       make(map[string]*TypeDefinition),
	}

	for _, directive := range doc.Directives {
		if IsFederationDirective(directive.Name) {
			continue
		}
		schema.Directives = append(schema.Directives, directive)
	}

	for _, definition := range doc.Definitions {
		if err := schema.add(definition, false); err != nil {
			return nil, err
		}
	}
	for _, extension := range doc.Extensions {
		if err := schema.add(extension, true); err != nil {
			return nil, err
		}
	}

	return schema, nil
}

func (s *AbstractSchema) add(definition *ast.Definition, isExtension bool) error {
	if _, ok := federationTypeNames[definition.Name]; ok {
		return nil
	}
	if definition.Directives.ForName(ExtendsDirectiveName) != nil {
		isExtension = true
	}

	typeDefinition, exists := s.Types[definition.Name]
	if !exists {
		typeDefinition = &TypeDefinition{
			Name:      definition.Name,
			Kind:      definition.Kind,
			Extension: isExtension,
		}
		s.Types[definition.Name] = typeDefinition
		s.TypeNames = append(s.TypeNames, definition.Name)
	} else {
		if typeDefinition.Kind != definition.Kind {
			return operationreport.ErrInvalidDirective(s.ServiceName, definition.Name,
				fmt.Sprintf("declared as both %s and %s", typeDefinition.Kind, definition.Kind))
		}
		// a base definition in the same service wins over its own extensions
		typeDefinition.Extension = typeDefinition.Extension && isExtension
	}

	if definition.Description != "" {
		typeDefinition.Description = definition.Description
	}
	typeDefinition.Interfaces = appendUnique(typeDefinition.Interfaces, definition.Interfaces...)
	typeDefinition.UnionMembers = appendUnique(typeDefinition.UnionMembers, definition.Types...)
	typeDefinition.EnumValues = append(typeDefinition.EnumValues, definition.EnumValues...)

	for _, directive := range definition.Directives {
		if DirectiveKindOf(directive.Name) != DirectiveKey {
			continue
		}
		raw, ok := fieldsArgument(directive)
		if !ok {
			return operationreport.ErrInvalidDirective(s.ServiceName, definition.Name,
				"@key directive must have a single string argument named fields")
		}
		keyFields := ParseFieldSet(raw)
		if len(keyFields) == 0 {
			return operationreport.ErrInvalidDirective(s.ServiceName, definition.Name,
				"@key directive fields must not be empty")
		}
		if typeDefinition.KeyFields == nil {
			typeDefinition.KeyFields = keyFields
			continue
		}
		typeDefinition.AlternativeKeys = append(typeDefinition.AlternativeKeys, keyFields)
	}
	typeDefinition.Directives = append(typeDefinition.Directives, withoutFederationDirectives(definition.Directives)...)

	for _, field := range definition.Fields {
		if isPlumbingField(definition.Name, field.Name) {
			continue
		}
		if typeDefinition.Field(field.Name) != nil {
			return operationreport.ErrInvalidDirective(s.ServiceName, definition.Name,
				fmt.Sprintf("field %q is declared more than once", field.Name))
		}
		fieldDefinition, err := s.newFieldDefinition(definition.Name, field)
		if err != nil {
			return err
		}
		typeDefinition.Fields = append(typeDefinition.Fields, fieldDefinition)
	}

	return nil
}

func (s *AbstractSchema) newFieldDefinition(typeName string, field *ast.FieldDefinition) (*FieldDefinition, error) {
	fieldDefinition := &FieldDefinition{
		Name:         field.Name,
		Description:  field.Description,
		Type:         field.Type,
		Arguments:    field.Arguments,
		DefaultValue: field.DefaultValue,
		Directives:   withoutFederationDirectives(field.Directives),
	}

	for _, directive := range field.Directives {
		switch DirectiveKindOf(directive.Name) {
		case DirectiveExternal:
			fieldDefinition.External = true
		case DirectiveRequires, DirectiveProvides:
			raw, ok := fieldsArgument(directive)
			if !ok {
				return nil, operationreport.ErrInvalidDirective(s.ServiceName, typeName,
					fmt.Sprintf("@%s directive on field %q must have a single string argument named fields", directive.Name, field.Name))
			}
			if DirectiveKindOf(directive.Name) == DirectiveRequires {
				fieldDefinition.Requires = ParseFieldSet(raw)
			} else {
				fieldDefinition.Provides = ParseFieldSet(raw)
			}
		}
	}

	return fieldDefinition, nil
}

func isPlumbingField(typeName, fieldName string) bool {
	if typeName != QueryTypeName {
		return false
	}
	return fieldName == ServiceFieldName || fieldName == EntitiesFieldName
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
