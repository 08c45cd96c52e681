package plan

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

type Kind int

const (
	// RootKind sub-operations select root fields of the client operation.
	RootKind Kind = iota + 1
	// EntityKind sub-operations resolve entity fields through `_entities`.
	EntityKind
)

func (k Kind) String() string {
	switch k {
	case RootKind:
		return "root"
	case EntityKind:
		return "entity"
	default:
		return "unknown"
	}
}

// SubOperation is the part of a client operation one service answers.
type SubOperation struct {
	ID      int
	Service string
	Kind    Kind
	// Document is the printed operation sent to Service.
	Document  string
	Operation *ast.OperationDefinition
	// DependsOn holds the ids of sub-operations whose data this one needs.
	// When one of them fails this one is skipped.
	DependsOn []int
	// After holds the ids of sub-operations that must complete first without
	// their failure affecting this one. Mutation root fields are ordered this way.
	After []int
	// BindingPath is the response path the result merges into. Lists on the
	// path are walked element by element. Root sub-operations bind at the top.
	BindingPath []string
	// ResponseKeys are the client visible keys the sub-operation writes at BindingPath.
	ResponseKeys []string
	// Variables names the client variables the document references.
	Variables []string

	// TypeName, KeyFields and RequiredFields describe the representations of
	// entity sub-operations.
	TypeName       string
	KeyFields      federation.FieldSet
	RequiredFields federation.FieldSet
}

func (s *SubOperation) dependsOn(id int) bool {
	for _, dependency := range s.DependsOn {
		if dependency == id {
			return true
		}
	}
	return false
}

func (s *SubOperation) runsAfter(id int) bool {
	for _, predecessor := range s.After {
		if predecessor == id {
			return true
		}
	}
	return false
}

// waitsFor reports whether id has to complete before s starts.
func (s *SubOperation) waitsFor(id int) bool {
	return s.dependsOn(id) || s.runsAfter(id)
}

func (s *SubOperation) addDependency(id int) {
	if id == s.ID || s.dependsOn(id) {
		return
	}
	s.DependsOn = append(s.DependsOn, id)
	sort.Ints(s.DependsOn)

	for i, predecessor := range s.After {
		if predecessor == id {
			s.After = append(s.After[:i], s.After[i+1:]...)
			break
		}
	}
}

func (s *SubOperation) addOrdering(id int) {
	if id == s.ID || s.waitsFor(id) {
		return
	}
	s.After = append(s.After, id)
	sort.Ints(s.After)
}

// BindingPathString joins BindingPath for logs and error messages.
func (s *SubOperation) BindingPathString() string {
	return strings.Join(s.BindingPath, ".")
}

// QueryPlan is the dependency graph of sub-operations for one client operation.
type QueryPlan struct {
	OperationType ast.Operation
	// SubOperations is topologically ordered: every sub-operation comes after its dependencies.
	SubOperations []*SubOperation

	// The client operation, used to shape the merged response.
	Operation *ast.OperationDefinition
	Fragments ast.FragmentDefinitionList
	Schema    *ast.Schema
}

// SubOperation returns the sub-operation with id or nil.
func (p *QueryPlan) SubOperation(id int) *SubOperation {
	for _, subOperation := range p.SubOperations {
		if subOperation.ID == id {
			return subOperation
		}
	}
	return nil
}

// Roots returns the ids of sub-operations that can start right away.
func (p *QueryPlan) Roots() []int {
	var out []int
	for _, subOperation := range p.SubOperations {
		if len(subOperation.DependsOn) == 0 && len(subOperation.After) == 0 {
			out = append(out, subOperation.ID)
		}
	}
	return out
}

// Dependents returns the ids of sub-operations that directly depend on id.
func (p *QueryPlan) Dependents(id int) []int {
	var out []int
	for _, subOperation := range p.SubOperations {
		if subOperation.dependsOn(id) {
			out = append(out, subOperation.ID)
		}
	}
	return out
}

func (p *QueryPlan) successors(id int) []int {
	var out []int
	for _, subOperation := range p.SubOperations {
		if subOperation.waitsFor(id) {
			out = append(out, subOperation.ID)
		}
	}
	return out
}

// Validate checks that the plan is a DAG with Kahn's algorithm and reorders
// SubOperations topologically, lower ids first among ready sub-operations.
func (p *QueryPlan) Validate() error {
	byID := make(map[int]*SubOperation, len(p.SubOperations))
	inDegree := make(map[int]int, len(p.SubOperations))
	for _, subOperation := range p.SubOperations {
		byID[subOperation.ID] = subOperation
	}
	for _, subOperation := range p.SubOperations {
		predecessors := append(append([]int{}, subOperation.DependsOn...), subOperation.After...)
		for _, predecessor := range predecessors {
			if _, ok := byID[predecessor]; !ok {
				return operationreport.ErrInvalidOperationWithReason("sub-operation depends on unknown sub-operation")
			}
		}
		inDegree[subOperation.ID] = len(predecessors)
	}

	var ready []int
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]*SubOperation, 0, len(p.SubOperations))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		for _, dependent := range p.successors(id) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(p.SubOperations) {
		var cyclic []int
		for id, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Ints(cyclic)
		return operationreport.ErrDependencyCycleBetween(cyclic)
	}

	p.SubOperations = ordered
	return nil
}
