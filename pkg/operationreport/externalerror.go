package operationreport

import (
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ExternalError is an error that is returned to the client in the errors array of a GraphQL response.
type ExternalError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Locations  []Location             `json:"locations,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type Location struct {
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

func (e ExternalError) Error() string {
	return e.Message
}

// ExternalErrorFromGQLError converts validation errors of the operation parser.
func ExternalErrorFromGQLError(err *gqlerror.Error) ExternalError {
	external := ExternalError{
		Message:    err.Message,
		Extensions: err.Extensions,
	}
	for _, location := range err.Locations {
		external.Locations = append(external.Locations, Location{
			Line:   uint32(location.Line),
			Column: uint32(location.Column),
		})
	}
	for _, element := range err.Path {
		external.Path = append(external.Path, element)
	}
	return external
}
