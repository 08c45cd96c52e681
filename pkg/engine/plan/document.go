package plan

import (
	"bytes"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
)

// RepresentationsVariableName is the variable entity sub-operations pass their
// representations in.
const RepresentationsVariableName = "representations"

var representationsType = ast.NonNullListType(ast.NonNullNamedType("_Any", nil), nil)

func rootOperation(operationType ast.Operation, name string, selections ast.SelectionSet) *ast.OperationDefinition {
	return &ast.OperationDefinition{
		Operation:    operationType,
		Name:         name,
		SelectionSet: selections,
	}
}

// entityOperation wraps selections into
// `query($representations: [_Any!]!) { _entities(representations: $representations) { ... on T { ... } } }`.
func entityOperation(typeName string, selections ast.SelectionSet) *ast.OperationDefinition {
	return &ast.OperationDefinition{
		Operation: ast.Query,
		VariableDefinitions: ast.VariableDefinitionList{
			{Variable: RepresentationsVariableName, Type: representationsType},
		},
		SelectionSet: ast.SelectionSet{
			&ast.Field{
				Alias: federation.EntitiesFieldName,
				Name:  federation.EntitiesFieldName,
				Arguments: ast.ArgumentList{
					{
						Name:  RepresentationsVariableName,
						Value: &ast.Value{Kind: ast.Variable, Raw: RepresentationsVariableName},
					},
				},
				SelectionSet: ast.SelectionSet{
					&ast.InlineFragment{
						TypeCondition: typeName,
						SelectionSet:  selections,
					},
				},
			},
		},
	}
}

// declareVariables adds a definition for every client variable operation
// references and returns their names in client declaration order.
func declareVariables(operation *ast.OperationDefinition, clientDefinitions ast.VariableDefinitionList) []string {
	used := map[string]struct{}{}
	collectSelectionSetVariables(operation.SelectionSet, used)

	var names []string
	for _, definition := range clientDefinitions {
		if _, ok := used[definition.Variable]; !ok {
			continue
		}
		if operation.VariableDefinitions.ForName(definition.Variable) != nil {
			continue
		}
		operation.VariableDefinitions = append(operation.VariableDefinitions, &ast.VariableDefinition{
			Variable:     definition.Variable,
			Type:         definition.Type,
			DefaultValue: definition.DefaultValue,
		})
		names = append(names, definition.Variable)
	}
	return names
}

func collectSelectionSetVariables(selections ast.SelectionSet, used map[string]struct{}) {
	for _, selection := range selections {
		switch s := selection.(type) {
		case *ast.Field:
			for _, argument := range s.Arguments {
				collectValueVariables(argument.Value, used)
			}
			collectDirectiveVariables(s.Directives, used)
			collectSelectionSetVariables(s.SelectionSet, used)
		case *ast.InlineFragment:
			collectDirectiveVariables(s.Directives, used)
			collectSelectionSetVariables(s.SelectionSet, used)
		}
	}
}

func collectDirectiveVariables(directives ast.DirectiveList, used map[string]struct{}) {
	for _, directive := range directives {
		for _, argument := range directive.Arguments {
			collectValueVariables(argument.Value, used)
		}
	}
}

func collectValueVariables(value *ast.Value, used map[string]struct{}) {
	if value == nil {
		return
	}
	if value.Kind == ast.Variable {
		used[value.Raw] = struct{}{}
		return
	}
	for _, child := range value.Children {
		collectValueVariables(child.Value, used)
	}
}

func printOperation(operation *ast.OperationDefinition) string {
	buf := &bytes.Buffer{}
	formatter.NewFormatter(buf, formatter.WithIndent("  ")).FormatQueryDocument(&ast.QueryDocument{
		Operations: ast.OperationList{operation},
	})
	return buf.String()
}
