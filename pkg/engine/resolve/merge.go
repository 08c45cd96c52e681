package resolve

import (
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
)

// collectObjects returns the objects of typeName reachable from data along
// path. Lists are walked element by element, nulls are skipped.
func collectObjects(data map[string]interface{}, path []string, typeName string) []map[string]interface{} {
	var out []map[string]interface{}
	var walk func(value interface{}, path []string)
	walk = func(value interface{}, path []string) {
		switch v := value.(type) {
		case []interface{}:
			for _, element := range v {
				walk(element, path)
			}
		case map[string]interface{}:
			if len(path) > 0 {
				walk(v[path[0]], path[1:])
				return
			}
			if objectTypeName, ok := v[federation.TypenameFieldName].(string); ok && objectTypeName != typeName {
				return
			}
			out = append(out, v)
		}
	}
	walk(data, path)
	return out
}

// buildRepresentation picks __typename, the key fields and the required
// fields from object. Objects without a complete key are not resolvable.
func buildRepresentation(object map[string]interface{}, subOperation *plan.SubOperation) (map[string]interface{}, bool) {
	representation := map[string]interface{}{
		federation.TypenameFieldName: subOperation.TypeName,
	}
	for _, keyField := range subOperation.KeyFields {
		value, ok := object[keyField]
		if !ok || value == nil {
			return nil, false
		}
		representation[keyField] = value
	}
	for _, requiredField := range subOperation.RequiredFields {
		if value, ok := object[requiredField]; ok {
			representation[requiredField] = value
		}
	}
	return representation, true
}

// mergeObjects deep merges src into dst. Objects merge key by key, lists of
// equal length element by element, anything else in src wins.
func mergeObjects(dst, src map[string]interface{}) {
	for key, value := range src {
		dst[key] = mergeValues(dst[key], value)
	}
}

func mergeValues(dst, src interface{}) interface{} {
	switch s := src.(type) {
	case map[string]interface{}:
		if d, ok := dst.(map[string]interface{}); ok {
			mergeObjects(d, s)
			return d
		}
	case []interface{}:
		if d, ok := dst.([]interface{}); ok && len(d) == len(s) {
			for i := range s {
				d[i] = mergeValues(d[i], s[i])
			}
			return d
		}
	}
	return src
}
