package federation

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// DirectiveKind is the closed set of federation directives the composer understands.
type DirectiveKind int

const (
	DirectiveUnknown DirectiveKind = iota
	DirectiveKey
	DirectiveExtends
	DirectiveExternal
	DirectiveRequires
	DirectiveProvides
)

const (
	KeyDirectiveName      = "key"
	ExtendsDirectiveName  = "extends"
	ExternalDirectiveName = "external"
	RequiresDirectiveName = "requires"
	ProvidesDirectiveName = "provides"

	fieldsArgumentName = "fields"
)

func DirectiveKindOf(name string) DirectiveKind {
	switch name {
	case KeyDirectiveName:
		return DirectiveKey
	case ExtendsDirectiveName:
		return DirectiveExtends
	case ExternalDirectiveName:
		return DirectiveExternal
	case RequiresDirectiveName:
		return DirectiveRequires
	case ProvidesDirectiveName:
		return DirectiveProvides
	default:
		return DirectiveUnknown
	}
}

func (d DirectiveKind) String() string {
	switch d {
	case DirectiveKey:
		return KeyDirectiveName
	case DirectiveExtends:
		return ExtendsDirectiveName
	case DirectiveExternal:
		return ExternalDirectiveName
	case DirectiveRequires:
		return RequiresDirectiveName
	case DirectiveProvides:
		return ProvidesDirectiveName
	default:
		return "unknown"
	}
}

// IsFederationDirective reports whether name belongs to the federation directive set.
func IsFederationDirective(name string) bool {
	return DirectiveKindOf(name) != DirectiveUnknown
}

// FieldSet is the parsed value of a `fields: "..."` argument.
// Only top level field names are supported: "id", "upc sku".
type FieldSet []string

func ParseFieldSet(raw string) FieldSet {
	return strings.Fields(strings.NewReplacer(",", " ").Replace(raw))
}

func (f FieldSet) String() string {
	return strings.Join(f, " ")
}

func (f FieldSet) Contains(name string) bool {
	for _, field := range f {
		if field == name {
			return true
		}
	}
	return false
}

// fieldsArgument returns the raw `fields` argument and false if the directive
// does not carry exactly one string argument with that name.
func fieldsArgument(directive *ast.Directive) (string, bool) {
	if len(directive.Arguments) != 1 {
		return "", false
	}
	argument := directive.Arguments[0]
	if argument.Name != fieldsArgumentName || argument.Value == nil {
		return "", false
	}
	if argument.Value.Kind != ast.StringValue && argument.Value.Kind != ast.BlockValue {
		return "", false
	}
	return argument.Value.Raw, true
}

// withoutFederationDirectives strips the federation directive set.
func withoutFederationDirectives(directives ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, directive := range directives {
		if IsFederationDirective(directive.Name) {
			continue
		}
		out = append(out, directive)
	}
	return out
}
