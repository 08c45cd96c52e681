// Package operationreport helps generating the errors object for a GraphQL Operation
// and defines the error taxonomy of the federation gateway.
package operationreport

import (
	"errors"
)

// InternalErrorMessage is what clients see in place of internal errors.
const InternalErrorMessage = "internal server error"

// Report collects the errors of a single client request. Internal errors are
// logged, external errors are rendered into the GraphQL "errors" array.
type Report struct {
	InternalErrors []error
	ExternalErrors []ExternalError
}

// AddInternalError records err for the logs only.
func (r *Report) AddInternalError(err error) {
	r.InternalErrors = append(r.InternalErrors, err)
}

func (r *Report) AddExternalError(gqlError ExternalError) {
	r.ExternalErrors = append(r.ExternalErrors, gqlError)
}

// AddError records err as an external error. GatewayErrors keep their kind
// in the extensions so clients can tell a planning failure from a
// sub-operation failure.
func (r *Report) AddError(err error, path ...interface{}) {
	external := ExternalError{
		Message: err.Error(),
		Path:    path,
	}
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		external.Extensions = gatewayErr.Extensions()
	}
	r.AddExternalError(external)
}

// ClientErrors returns the external errors followed by one generic error
// standing in for every internal error.
func (r *Report) ClientErrors() []ExternalError {
	if len(r.InternalErrors) == 0 {
		return r.ExternalErrors
	}
	out := make([]ExternalError, 0, len(r.ExternalErrors)+1)
	out = append(out, r.ExternalErrors...)
	return append(out, ExternalError{Message: InternalErrorMessage})
}
