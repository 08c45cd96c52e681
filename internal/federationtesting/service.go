// Package federationtesting provides in-process federated services for tests.
//
// A Service answers `_service { sdl }`, `_entities(representations: ...)` and
// root fields by projecting the requested selection set over static data.
package federationtesting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/atomic"
)

// EntityResolver returns the entity for a representation or nil.
type EntityResolver func(representation map[string]interface{}) map[string]interface{}

type Service struct {
	Name     string
	SDL      string
	Root     map[string]interface{}
	Entities map[string]EntityResolver

	unavailable atomic.Bool
	requests    atomic.Int64

	mu      sync.Mutex
	queries []string
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// SetUnavailable makes every following request fail with 503.
func (s *Service) SetUnavailable(unavailable bool) {
	s.unavailable.Store(unavailable)
}

// Requests counts the requests served, including failed ones.
func (s *Service) Requests() int64 {
	return s.requests.Load()
}

// Queries returns the query documents received so far.
func (s *Service) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// SetSDL replaces the schema answered to introspection.
func (s *Service) SetSDL(sdl string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SDL = sdl
}

// Start serves the service until the returned server is closed.
func (s *Service) Start() *httptest.Server {
	return httptest.NewServer(s)
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc()
	if s.unavailable.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, req.Query)
	sdl := s.SDL
	s.mu.Unlock()

	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil || len(doc.Operations) == 0 {
		writeJSON(w, map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "invalid query"}},
		})
		return
	}

	data := map[string]interface{}{}
	for _, field := range rootFields(doc.Operations[0].SelectionSet, req.Variables) {
		responseKey := field.Alias
		if responseKey == "" {
			responseKey = field.Name
		}
		switch field.Name {
		case "_service":
			data[responseKey] = project(map[string]interface{}{"sdl": sdl}, field.SelectionSet, doc.Fragments)
		case "_entities":
			data[responseKey] = s.entities(field, req.Variables, doc.Fragments)
		default:
			data[responseKey] = project(s.Root[field.Name], field.SelectionSet, doc.Fragments)
		}
	}

	writeJSON(w, map[string]interface{}{"data": data})
}

// rootFields flattens root inline fragments and drops selections excluded by
// @skip or @include.
func rootFields(selections ast.SelectionSet, variables map[string]interface{}) []*ast.Field {
	var out []*ast.Field
	for _, selection := range selections {
		switch s := selection.(type) {
		case *ast.Field:
			if included(s.Directives, variables) {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			if included(s.Directives, variables) {
				out = append(out, rootFields(s.SelectionSet, variables)...)
			}
		}
	}
	return out
}

func included(directives ast.DirectiveList, variables map[string]interface{}) bool {
	condition := func(directive *ast.Directive) bool {
		argument := directive.Arguments.ForName("if")
		if argument == nil || argument.Value == nil {
			return false
		}
		if argument.Value.Kind == ast.Variable {
			value, _ := variables[argument.Value.Raw].(bool)
			return value
		}
		return argument.Value.Raw == "true"
	}
	if skip := directives.ForName("skip"); skip != nil && condition(skip) {
		return false
	}
	if include := directives.ForName("include"); include != nil && !condition(include) {
		return false
	}
	return true
}

func (s *Service) entities(field *ast.Field, variables map[string]interface{}, fragments ast.FragmentDefinitionList) []interface{} {
	argument := field.Arguments.ForName("representations")
	if argument == nil || argument.Value == nil {
		return nil
	}
	representations, _ := variables[argument.Value.Raw].([]interface{})

	out := make([]interface{}, 0, len(representations))
	for _, item := range representations {
		representation, _ := item.(map[string]interface{})
		typeName, _ := representation["__typename"].(string)
		resolver, ok := s.Entities[typeName]
		if !ok {
			out = append(out, nil)
			continue
		}
		entity := resolver(representation)
		if entity == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, project(entity, field.SelectionSet, fragments))
	}
	return out
}

func project(value interface{}, selectionSet ast.SelectionSet, fragments ast.FragmentDefinitionList) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = project(v[i], selectionSet, fragments)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = project(v[i], selectionSet, fragments)
		}
		return out
	case map[string]interface{}:
		if len(selectionSet) == 0 {
			return v
		}
		out := map[string]interface{}{}
		projectObject(v, selectionSet, fragments, out)
		return out
	default:
		return v
	}
}

func projectObject(object map[string]interface{}, selectionSet ast.SelectionSet, fragments ast.FragmentDefinitionList, out map[string]interface{}) {
	typeName, _ := object["__typename"].(string)
	for _, selection := range selectionSet {
		switch s := selection.(type) {
		case *ast.Field:
			responseKey := s.Alias
			if responseKey == "" {
				responseKey = s.Name
			}
			out[responseKey] = project(object[s.Name], s.SelectionSet, fragments)
		case *ast.InlineFragment:
			if s.TypeCondition == "" || s.TypeCondition == typeName {
				projectObject(object, s.SelectionSet, fragments, out)
			}
		case *ast.FragmentSpread:
			fragment := fragments.ForName(s.Name)
			if fragment != nil && (fragment.TypeCondition == typeName) {
				projectObject(object, fragment.SelectionSet, fragments, out)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
