package composition

import (
	"errors"
	"sort"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

var errNoServices = errors.New("at least one service schema is required")

// Compose merges schemas in the given order. Composition aborts on the first
// conflict and never returns a partial schema.
func Compose(schemas []*federation.AbstractSchema) (*ComposedSchema, error) {
	if len(schemas) == 0 {
		return nil, operationreport.ErrInvalidComposedSchema(errNoServices)
	}

	c := &composer{
		composed: &ComposedSchema{
			Types:        make(map[string]*MergedType),
			EntityOwners: make(map[string][]EntityOwner),
		},
		keyTypes: make(map[string]map[string]string),
	}

	for _, schema := range schemas {
		c.composed.Services = append(c.composed.Services, schema.ServiceName)
		if err := c.mergeSchema(schema); err != nil {
			return nil, err
		}
	}

	if err := c.validateFields(); err != nil {
		return nil, err
	}

	if err := c.composed.build(); err != nil {
		return nil, err
	}
	return c.composed, nil
}

type composer struct {
	composed *ComposedSchema
	// keyTypes remembers the declared type of every key field per entity,
	// taken from the first service declaring the entity.
	keyTypes map[string]map[string]string
}

func (c *composer) mergeSchema(schema *federation.AbstractSchema) error {
	for _, directive := range schema.Directives {
		if isBuiltinDirective(directive.Name) || c.composed.Directives.ForName(directive.Name) != nil {
			continue
		}
		c.composed.Directives = append(c.composed.Directives, directive)
	}

	for _, typeName := range schema.TypeNames {
		if err := c.mergeType(schema.ServiceName, schema.Type(typeName)); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) mergeType(service string, definition *federation.TypeDefinition) error {
	merged, exists := c.composed.Types[definition.Name]
	if !exists {
		merged = &MergedType{
			Name: definition.Name,
			Kind: definition.Kind,
		}
		c.composed.Types[definition.Name] = merged
		c.composed.TypeNames = append(c.composed.TypeNames, definition.Name)
	} else if merged.Kind != definition.Kind {
		return operationreport.ErrTypeKindConflictBetween(definition.Name,
			merged.Services[0], string(merged.Kind), service, string(definition.Kind))
	}

	merged.Services = append(merged.Services, service)
	if !definition.Extension && merged.BaseService == "" {
		merged.BaseService = service
	}
	if merged.Description == "" {
		merged.Description = definition.Description
	}
	merged.Interfaces = appendUnique(merged.Interfaces, definition.Interfaces...)
	merged.UnionMembers = appendUnique(merged.UnionMembers, definition.UnionMembers...)
	for _, value := range definition.EnumValues {
		if merged.EnumValues.ForName(value.Name) == nil {
			merged.EnumValues = append(merged.EnumValues, value)
		}
	}
	for _, directive := range definition.Directives {
		if merged.Directives.ForName(directive.Name) == nil {
			merged.Directives = append(merged.Directives, directive)
		}
	}

	if definition.IsEntity() {
		if err := c.mergeEntity(service, definition); err != nil {
			return err
		}
	}

	for _, field := range definition.Fields {
		c.mergeField(service, definition, merged, field)
	}
	return nil
}

func (c *composer) mergeEntity(service string, definition *federation.TypeDefinition) error {
	keyTypes := make(map[string]string, len(definition.KeyFields))
	for _, keyField := range definition.KeyFields {
		field := definition.Field(keyField)
		if field == nil {
			return operationreport.ErrMissingKeyFieldOn(definition.Name, keyField, service)
		}
		keyTypes[keyField] = field.Type.String()
	}
	for _, alternative := range definition.AlternativeKeys {
		for _, keyField := range alternative {
			if definition.Field(keyField) == nil {
				return operationreport.ErrMissingKeyFieldOn(definition.Name, keyField, service)
			}
		}
	}

	owners := c.composed.EntityOwners[definition.Name]
	if len(owners) > 0 {
		first := owners[0]
		if !sameKey(first.KeyFields, c.keyTypes[definition.Name], definition.KeyFields, keyTypes) {
			return operationreport.ErrKeyFieldConflictBetween(definition.Name,
				first.Service, first.KeyFields.String(), service, definition.KeyFields.String())
		}
	} else {
		c.keyTypes[definition.Name] = keyTypes
	}

	c.composed.EntityOwners[definition.Name] = append(owners, EntityOwner{
		Service:   service,
		KeyFields: definition.KeyFields,
		Extension: definition.Extension,
	})
	return nil
}

func (c *composer) mergeField(service string, definition *federation.TypeDefinition, merged *MergedType, field *federation.FieldDefinition) {
	mergedField := merged.Field(field.Name)
	if mergedField == nil {
		mergedField = &MergedField{
			Name:         field.Name,
			Description:  field.Description,
			Type:         field.Type,
			Arguments:    field.Arguments,
			DefaultValue: field.DefaultValue,
			Directives:   field.Directives,
		}
		merged.Fields = append(merged.Fields, mergedField)
	} else if !field.External && !hasResolvingOwner(mergedField) {
		// the authoritative declaration defines the printed signature
		mergedField.Type = field.Type
		mergedField.Arguments = field.Arguments
		mergedField.Directives = field.Directives
		if field.Description != "" {
			mergedField.Description = field.Description
		}
	}

	mergedField.Owners = append(mergedField.Owners, FieldOwner{
		Service:   service,
		Type:      field.Type,
		External:  field.External,
		Requires:  field.Requires,
		Provides:  field.Provides,
		Extension: definition.Extension,
	})
}

// validateFields runs once all services are merged, because whether a type is
// an entity is only known then.
func (c *composer) validateFields() error {
	sort.Strings(c.composed.TypeNames)

	for _, typeName := range c.composed.TypeNames {
		merged := c.composed.Types[typeName]
		shareable := c.isSharedValueType(merged)

		for _, field := range merged.Fields {
			var authority *FieldOwner
			for i := range field.Owners {
				owner := &field.Owners[i]
				if authority == nil && !owner.External {
					authority = owner
				}
			}
			if authority == nil {
				continue
			}

			for i := range field.Owners {
				owner := &field.Owners[i]
				if owner == authority {
					continue
				}
				if owner.External {
					if owner.Type.Name() != authority.Type.Name() {
						return operationreport.ErrFieldConflictBetween(typeName, field.Name, authority.Service, owner.Service)
					}
					continue
				}
				if !shareable || owner.Type.String() != authority.Type.String() {
					return operationreport.ErrFieldConflictBetween(typeName, field.Name, authority.Service, owner.Service)
				}
			}
		}
	}
	return nil
}

// isSharedValueType reports whether identical field declarations in several
// services are legal: plain types defined without extension everywhere.
func (c *composer) isSharedValueType(merged *MergedType) bool {
	if c.composed.IsEntity(merged.Name) || isRootType(merged.Name) {
		return false
	}
	for _, field := range merged.Fields {
		for _, owner := range field.Owners {
			if owner.Extension {
				return false
			}
		}
	}
	return true
}

func hasResolvingOwner(field *MergedField) bool {
	for _, owner := range field.Owners {
		if !owner.External {
			return true
		}
	}
	return false
}

func sameKey(a federation.FieldSet, aTypes map[string]string, b federation.FieldSet, bTypes map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, name := range a {
		if !b.Contains(name) {
			return false
		}
		if aTypes[name] != bTypes[name] {
			return false
		}
	}
	return true
}

func isRootType(typeName string) bool {
	switch typeName {
	case federation.QueryTypeName, federation.MutationTypeName, federation.SubscriptionTypeName:
		return true
	}
	return false
}

var builtinDirectives = map[string]struct{}{
	"include":     {},
	"skip":        {},
	"deprecated":  {},
	"specifiedBy": {},
	"defer":       {},
	"oneOf":       {},
}

func isBuiltinDirective(name string) bool {
	_, ok := builtinDirectives[name]
	return ok
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
