// Package httpclient is the transport used to talk to federated services.
//
// A request is described by a small JSON document (the request input) so it can
// be built once during planning and replayed per execution:
//
//	{"method":"POST","url":"http://accounts/graphql","headers":{"X-Token":["a"]},"body":{"query":"..."}}
package httpclient

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/sjson"
)

const (
	URL     = "url"
	METHOD  = "method"
	BODY    = "body"
	HEADERS = "header"
)

var inputPaths = [][]string{
	{URL},
	{METHOD},
	{BODY},
	{HEADERS},
}

// Client executes a request input and writes the raw response body to out.
type Client interface {
	Do(ctx context.Context, requestInput []byte, out io.Writer) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

func SetInputURL(input, url []byte) []byte {
	if len(url) == 0 {
		return input
	}
	out, _ := sjson.SetBytes(input, URL, string(url))
	return out
}

func SetInputMethod(input, method []byte) []byte {
	if len(method) == 0 {
		return input
	}
	out, _ := sjson.SetBytes(input, METHOD, string(method))
	return out
}

// SetInputBody embeds body as raw JSON.
func SetInputBody(input, body []byte) []byte {
	if len(body) == 0 {
		return input
	}
	out, _ := sjson.SetRawBytes(input, BODY, body)
	return out
}

// SetInputHeader adds a header value. Header values are stored as arrays.
func SetInputHeader(input []byte, key, value string) []byte {
	out, _ := sjson.SetBytes(input, HEADERS+"."+escapePathKey(key)+".-1", value)
	return out
}

// GraphQLRequestBody builds {"query":...,"variables":...}. variables must be a
// JSON object or empty.
func GraphQLRequestBody(query string, variables []byte) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "query", query)
	if err != nil {
		return nil, err
	}
	if len(variables) == 0 {
		return body, nil
	}
	return sjson.SetRawBytes(body, "variables", variables)
}

// NewGraphQLRequestInput is a shorthand for a POST of a GraphQL document.
func NewGraphQLRequestInput(url string, headers map[string]string, query string, variables []byte) ([]byte, error) {
	body, err := GraphQLRequestBody(query, variables)
	if err != nil {
		return nil, err
	}
	input := SetInputURL(nil, []byte(url))
	input = SetInputMethod(input, []byte("POST"))
	for key, value := range headers {
		input = SetInputHeader(input, key, value)
	}
	return SetInputBody(input, body), nil
}

func escapePathKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
