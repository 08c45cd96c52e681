// Package composition merges the schemas of federated services into one
// composed schema and records which service resolves which entity and field.
package composition

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
)

// ComposedSchema is immutable once Compose returned it.
type ComposedSchema struct {
	// Services lists the composed services in input order.
	Services []string
	Types    map[string]*MergedType
	// TypeNames lists Types sorted by name.
	TypeNames []string
	// EntityOwners maps an entity type to every service that declares it with @key,
	// in input order.
	EntityOwners map[string][]EntityOwner
	Directives   ast.DirectiveDefinitionList

	// SDL is the printed composed schema without federation directives.
	SDL string
	// Schema is SDL loaded and validated by gqlparser.
	Schema *ast.Schema
}

type EntityOwner struct {
	Service   string
	KeyFields federation.FieldSet
	// Extension is true when the service extends an entity defined elsewhere.
	Extension bool
}

type MergedType struct {
	Name         string
	Kind         ast.DefinitionKind
	Description  string
	Fields       []*MergedField
	Interfaces   []string
	UnionMembers []string
	EnumValues   ast.EnumValueList
	Directives   ast.DirectiveList
	// Services lists every service declaring the type, in input order.
	Services []string
	// BaseService is the first service holding a non extension definition.
	BaseService string
}

type MergedField struct {
	Name         string
	Description  string
	Type         *ast.Type
	Arguments    ast.ArgumentDefinitionList
	DefaultValue *ast.Value
	Directives   ast.DirectiveList
	// Owners lists every declaration of the field, @external ones included, in input order.
	Owners []FieldOwner
}

type FieldOwner struct {
	Service string
	// Type is the type the service declared for the field.
	Type     *ast.Type
	External bool
	Requires federation.FieldSet
	Provides federation.FieldSet
	// Extension is true when the declaring type was an extension in that service.
	Extension bool
}

func (s *ComposedSchema) Type(name string) *MergedType {
	return s.Types[name]
}

func (s *ComposedSchema) IsEntity(typeName string) bool {
	return len(s.EntityOwners[typeName]) > 0
}

// EntityOwner returns the @key declaration of typeName in service.
func (s *ComposedSchema) EntityOwner(typeName, service string) (EntityOwner, bool) {
	for _, owner := range s.EntityOwners[typeName] {
		if owner.Service == service {
			return owner, true
		}
	}
	return EntityOwner{}, false
}

// Field returns the merged field or nil if either the type or the field is unknown.
func (s *ComposedSchema) Field(typeName, fieldName string) *MergedField {
	mergedType := s.Types[typeName]
	if mergedType == nil {
		return nil
	}
	return mergedType.Field(fieldName)
}

// FieldOwners returns every declaration of typeName.fieldName.
func (s *ComposedSchema) FieldOwners(typeName, fieldName string) []FieldOwner {
	field := s.Field(typeName, fieldName)
	if field == nil {
		return nil
	}
	return field.Owners
}

func (t *MergedType) Field(name string) *MergedField {
	for _, field := range t.Fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

func (t *MergedType) DeclaredBy(service string) bool {
	for _, name := range t.Services {
		if name == service {
			return true
		}
	}
	return false
}

// ResolvingServices returns the services declaring the field without @external.
// The first entry is the authoritative owner.
func (f *MergedField) ResolvingServices() []string {
	var out []string
	for _, owner := range f.Owners {
		if !owner.External {
			out = append(out, owner.Service)
		}
	}
	return out
}

// Owner returns the declaration of the field in service.
func (f *MergedField) Owner(service string) (FieldOwner, bool) {
	for _, owner := range f.Owners {
		if owner.Service == service {
			return owner, true
		}
	}
	return FieldOwner{}, false
}

// ResolvableBy reports whether service declares the field without @external.
func (f *MergedField) ResolvableBy(service string) bool {
	owner, ok := f.Owner(service)
	return ok && !owner.External
}
