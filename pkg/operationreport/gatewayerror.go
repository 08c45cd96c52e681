package operationreport

import (
	"fmt"
	"strings"
)

// ErrorKind classifies every error the gateway produces.
type ErrorKind string

const (
	KindServiceUnreachable   ErrorKind = "ServiceUnreachable"
	KindSchemaParseError     ErrorKind = "SchemaParseError"
	KindCompositionError     ErrorKind = "CompositionError"
	KindPlanningError        ErrorKind = "PlanningError"
	KindSubOperationError    ErrorKind = "SubOperationError"
	KindGatewayModeViolation ErrorKind = "GatewayModeViolation"
)

// SubKind refines CompositionError and PlanningError.
type SubKind string

const (
	KeyFieldConflict SubKind = "KeyFieldConflict"
	FieldConflict    SubKind = "FieldConflict"
	MissingKeyField  SubKind = "MissingKeyField"

	UnresolvableField SubKind = "UnresolvableField"
	DependencyCycle   SubKind = "DependencyCycle"
	InvalidOperation  SubKind = "InvalidOperation"
)

// Sentinels for errors.Is. Matching compares Kind and, if set on the target, SubKind.
var (
	ErrServiceUnreachable   = &GatewayError{Kind: KindServiceUnreachable}
	ErrSchemaParseError     = &GatewayError{Kind: KindSchemaParseError}
	ErrCompositionError     = &GatewayError{Kind: KindCompositionError}
	ErrPlanningError        = &GatewayError{Kind: KindPlanningError}
	ErrSubOperationError    = &GatewayError{Kind: KindSubOperationError}
	ErrGatewayModeViolation = &GatewayError{Kind: KindGatewayModeViolation}

	ErrKeyFieldConflict  = &GatewayError{Kind: KindCompositionError, SubKind: KeyFieldConflict}
	ErrFieldConflict     = &GatewayError{Kind: KindCompositionError, SubKind: FieldConflict}
	ErrMissingKeyField   = &GatewayError{Kind: KindCompositionError, SubKind: MissingKeyField}
	ErrUnresolvableField = &GatewayError{Kind: KindPlanningError, SubKind: UnresolvableField}
	ErrDependencyCycle   = &GatewayError{Kind: KindPlanningError, SubKind: DependencyCycle}
	ErrInvalidOperation  = &GatewayError{Kind: KindPlanningError, SubKind: InvalidOperation}
)

type GatewayError struct {
	Kind      ErrorKind
	SubKind   SubKind
	Service   string
	TypeName  string
	FieldName string
	Operation string
	Message   string
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.SubKind == "" || t.SubKind == e.SubKind
}

// Extensions renders the error classification for the GraphQL errors array.
func (e *GatewayError) Extensions() map[string]interface{} {
	extensions := map[string]interface{}{
		"code": string(e.Kind),
	}
	if e.SubKind != "" {
		extensions["kind"] = string(e.SubKind)
	}
	if e.Service != "" {
		extensions["serviceName"] = e.Service
	}
	return extensions
}

func ErrServiceUnreachableWithCause(service string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindServiceUnreachable,
		Service: service,
		Message: fmt.Sprintf("service %q is unreachable", service),
		Err:     err,
	}
}

func ErrSchemaParse(service string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindSchemaParseError,
		Service: service,
		Message: fmt.Sprintf("schema of service %q could not be parsed", service),
		Err:     err,
	}
}

func ErrInvalidDirective(service, typeName, message string) *GatewayError {
	return &GatewayError{
		Kind:     KindSchemaParseError,
		Service:  service,
		TypeName: typeName,
		Message:  fmt.Sprintf("service %q, type %q: %s", service, typeName, message),
	}
}

func ErrKeyFieldConflictBetween(typeName, serviceA, keyA, serviceB, keyB string) *GatewayError {
	return &GatewayError{
		Kind:     KindCompositionError,
		SubKind:  KeyFieldConflict,
		Service:  serviceB,
		TypeName: typeName,
		Message: fmt.Sprintf("entity %q has key %q in service %q but key %q in service %q",
			typeName, keyA, serviceA, keyB, serviceB),
	}
}

func ErrFieldConflictBetween(typeName, fieldName, serviceA, serviceB string) *GatewayError {
	return &GatewayError{
		Kind:      KindCompositionError,
		SubKind:   FieldConflict,
		Service:   serviceB,
		TypeName:  typeName,
		FieldName: fieldName,
		Message: fmt.Sprintf("field %q of type %q is declared by both service %q and service %q",
			fieldName, typeName, serviceA, serviceB),
	}
}

func ErrTypeKindConflictBetween(typeName, serviceA, kindA, serviceB, kindB string) *GatewayError {
	return &GatewayError{
		Kind:     KindCompositionError,
		SubKind:  FieldConflict,
		Service:  serviceB,
		TypeName: typeName,
		Message: fmt.Sprintf("type %q is declared as %s in service %q but as %s in service %q",
			typeName, kindA, serviceA, kindB, serviceB),
	}
}

// ErrInvalidComposedSchema wraps a validation failure of the merged schema.
func ErrInvalidComposedSchema(err error) *GatewayError {
	return &GatewayError{
		Kind:    KindCompositionError,
		Message: "composed schema is invalid",
		Err:     err,
	}
}

func ErrMissingKeyFieldOn(typeName, fieldName, service string) *GatewayError {
	return &GatewayError{
		Kind:      KindCompositionError,
		SubKind:   MissingKeyField,
		Service:   service,
		TypeName:  typeName,
		FieldName: fieldName,
		Message: fmt.Sprintf("key field %q of entity %q is not declared in service %q",
			fieldName, typeName, service),
	}
}

func ErrUnresolvableFieldOn(typeName, fieldName string) *GatewayError {
	return &GatewayError{
		Kind:      KindPlanningError,
		SubKind:   UnresolvableField,
		TypeName:  typeName,
		FieldName: fieldName,
		Message:   fmt.Sprintf("no service can resolve field %q on type %q", fieldName, typeName),
	}
}

func ErrDependencyCycleBetween(ids []int) *GatewayError {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return &GatewayError{
		Kind:    KindPlanningError,
		SubKind: DependencyCycle,
		Message: fmt.Sprintf("query plan contains a dependency cycle between sub-operations %s", strings.Join(parts, ", ")),
	}
}

func ErrInvalidOperationWithReason(message string) *GatewayError {
	return &GatewayError{
		Kind:    KindPlanningError,
		SubKind: InvalidOperation,
		Message: message,
	}
}

func ErrSubOperationFailed(service string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindSubOperationError,
		Service: service,
		Message: fmt.Sprintf("sub-operation on service %q failed", service),
		Err:     err,
	}
}

func ErrSubOperationSkipped(service string, dependencyID int) *GatewayError {
	return &GatewayError{
		Kind:    KindSubOperationError,
		Service: service,
		Message: fmt.Sprintf("sub-operation on service %q skipped: dependency %d failed", service, dependencyID),
	}
}

// ErrGatewayModeViolationFor is returned by every local schema mutation API of a gateway.
func ErrGatewayModeViolationFor(operationName string) *GatewayError {
	return &GatewayError{
		Kind:      KindGatewayModeViolation,
		Operation: operationName,
		Message:   fmt.Sprintf("Gateway issues: Calling %s method when gateway plugin is running is not allowed", operationName),
	}
}
