package resolve

import (
	"bytes"
	"encoding/json"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
)

// writeResponse renders data in the shape and order of the client operation.
// Fields the gateway added for representations are dropped, missing fields are null.
func writeResponse(queryPlan *plan.QueryPlan, data map[string]interface{}, variables map[string]interface{}) (json.RawMessage, error) {
	w := &responseWriter{
		buf:       &bytes.Buffer{},
		schema:    queryPlan.Schema,
		fragments: queryPlan.Fragments,
		variables: variables,
	}
	rootTypeName := federation.QueryTypeName
	if queryPlan.OperationType == ast.Mutation {
		rootTypeName = federation.MutationTypeName
	}
	if err := w.writeObject(data, rootTypeName, queryPlan.Operation.SelectionSet); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

type responseWriter struct {
	buf       *bytes.Buffer
	schema    *ast.Schema
	fragments ast.FragmentDefinitionList
	variables map[string]interface{}
}

// collectedField is one response key with every field selected under it.
type collectedField struct {
	key    string
	fields []*ast.Field
}

func (w *responseWriter) writeObject(object map[string]interface{}, typeName string, selections ast.SelectionSet) error {
	if objectTypeName, ok := object[federation.TypenameFieldName].(string); ok {
		typeName = objectTypeName
	}

	collected := w.collectFields(typeName, selections, nil)

	w.buf.WriteByte('{')
	for i, field := range collected {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		key, err := json.Marshal(field.key)
		if err != nil {
			return err
		}
		w.buf.Write(key)
		w.buf.WriteByte(':')

		first := field.fields[0]
		if first.Name == federation.TypenameFieldName {
			typeNameValue, _ := json.Marshal(typeName)
			w.buf.Write(typeNameValue)
			continue
		}
		var fieldType *ast.Type
		if first.Definition != nil {
			fieldType = first.Definition.Type
		}
		if err := w.writeValue(object[field.key], fieldType, field.fields); err != nil {
			return err
		}
	}
	w.buf.WriteByte('}')
	return nil
}

func (w *responseWriter) writeValue(value interface{}, fieldType *ast.Type, fields []*ast.Field) error {
	switch v := value.(type) {
	case nil:
		w.buf.WriteString("null")
		return nil
	case []interface{}:
		var elementType *ast.Type
		if fieldType != nil {
			elementType = fieldType.Elem
		}
		w.buf.WriteByte('[')
		for i, element := range v {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			if err := w.writeValue(element, elementType, fields); err != nil {
				return err
			}
		}
		w.buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		var selections ast.SelectionSet
		for _, field := range fields {
			selections = append(selections, field.SelectionSet...)
		}
		if len(selections) == 0 {
			break
		}
		typeName := ""
		if fieldType != nil {
			typeName = fieldType.Name()
		}
		return w.writeObject(v, typeName, selections)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.buf.Write(out)
	return nil
}

// collectFields groups selections by response key in order of first
// appearance, applying fragments and @skip/@include.
func (w *responseWriter) collectFields(typeName string, selections ast.SelectionSet, out []*collectedField) []*collectedField {
	for _, selection := range selections {
		switch s := selection.(type) {
		case *ast.Field:
			if !w.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			found := false
			for _, existing := range out {
				if existing.key == key {
					existing.fields = append(existing.fields, s)
					found = true
					break
				}
			}
			if !found {
				out = append(out, &collectedField{key: key, fields: []*ast.Field{s}})
			}
		case *ast.InlineFragment:
			if !w.included(s.Directives) || !w.applies(s.TypeCondition, typeName) {
				continue
			}
			out = w.collectFields(typeName, s.SelectionSet, out)
		case *ast.FragmentSpread:
			fragment := w.fragments.ForName(s.Name)
			if fragment == nil || !w.included(s.Directives) || !w.applies(fragment.TypeCondition, typeName) {
				continue
			}
			out = w.collectFields(typeName, fragment.SelectionSet, out)
		}
	}
	return out
}

func (w *responseWriter) applies(typeCondition, typeName string) bool {
	if typeCondition == "" || typeCondition == typeName {
		return true
	}
	if w.schema == nil {
		return false
	}
	for _, possible := range w.schema.PossibleTypes[typeCondition] {
		if possible.Name == typeName {
			return true
		}
	}
	return false
}

func (w *responseWriter) included(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil && w.condition(skip) {
		return false
	}
	if include := directives.ForName("include"); include != nil && !w.condition(include) {
		return false
	}
	return true
}

func (w *responseWriter) condition(directive *ast.Directive) bool {
	argument := directive.Arguments.ForName("if")
	if argument == nil || argument.Value == nil {
		return false
	}
	if argument.Value.Kind == ast.Variable {
		value, _ := w.variables[argument.Value.Raw].(bool)
		return value
	}
	return argument.Value.Raw == "true"
}
