package composition

import (
	"bytes"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

const composedSourceName = "composed"

// build prints the composed schema and loads it with gqlparser so client
// operations can be validated against it.
func (s *ComposedSchema) build() error {
	document := s.Document()

	buf := &bytes.Buffer{}
	formatter.NewFormatter(buf).FormatSchemaDocument(document)
	s.SDL = buf.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: composedSourceName, Input: s.SDL})
	if err != nil {
		return operationreport.ErrInvalidComposedSchema(err)
	}
	s.Schema = schema
	return nil
}

// Document returns the composed schema as a gqlparser schema document.
// Type definitions are sorted by name.
func (s *ComposedSchema) Document() *ast.SchemaDocument {
	document := &ast.SchemaDocument{
		Directives: s.Directives,
	}
	for _, typeName := range s.TypeNames {
		document.Definitions = append(document.Definitions, s.definition(s.Types[typeName]))
	}
	return document
}

func (s *ComposedSchema) definition(merged *MergedType) *ast.Definition {
	definition := &ast.Definition{
		Kind:        merged.Kind,
		Name:        merged.Name,
		Description: merged.Description,
		Directives:  s.knownDirectives(merged.Directives),
		Interfaces:  merged.Interfaces,
		Types:       merged.UnionMembers,
		EnumValues:  merged.EnumValues,
	}
	for _, field := range merged.Fields {
		definition.Fields = append(definition.Fields, &ast.FieldDefinition{
			Name:         field.Name,
			Description:  field.Description,
			Arguments:    field.Arguments,
			DefaultValue: field.DefaultValue,
			Type:         field.Type,
			Directives:   s.knownDirectives(field.Directives),
		})
	}
	return definition
}

// knownDirectives drops usages of directives no service declared.
func (s *ComposedSchema) knownDirectives(directives ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, directive := range directives {
		if isBuiltinDirective(directive.Name) || s.Directives.ForName(directive.Name) != nil {
			out = append(out, directive)
		}
	}
	return out
}
