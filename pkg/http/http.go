// Package http serves a gateway runtime over GraphQL HTTP requests.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/jensneuse/abstractlogger"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/gateway"
)

const (
	httpHeaderContentType string = "Content-Type"

	httpContentTypeApplicationJson string = "application/json"
)

var errMissingQuery = errors.New("request has no query")

func NewGraphqlHTTPHandler(runtime gateway.Runtime, logger log.Logger) http.Handler {
	if logger == nil {
		logger = log.NoopLogger
	}
	return &GraphQLHTTPRequestHandler{
		log:     logger,
		runtime: runtime,
	}
}

type GraphQLHTTPRequestHandler struct {
	log     log.Logger
	runtime gateway.Runtime
}

func (g *GraphQLHTTPRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		request gateway.Request
		err     error
	)
	switch r.Method {
	case http.MethodPost:
		request, err = requestFromBody(r.Body)
	case http.MethodGet:
		request, err = requestFromURL(r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err == nil && request.Query == "" {
		err = errMissingQuery
	}
	if err != nil {
		g.log.Error("GraphQLHTTPRequestHandler.ServeHTTP",
			log.Error(err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	response := g.runtime.Execute(r.Context(), request)

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(response); err != nil {
		g.log.Error("GraphQLHTTPRequestHandler.ServeHTTP",
			log.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add(httpHeaderContentType, httpContentTypeApplicationJson)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func requestFromBody(body io.Reader) (gateway.Request, error) {
	var request gateway.Request
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	err := decoder.Decode(&request)
	return request, err
}

func requestFromURL(r *http.Request) (gateway.Request, error) {
	values := r.URL.Query()
	request := gateway.Request{
		Query:         values.Get("query"),
		OperationName: values.Get("operationName"),
	}
	if variables := values.Get("variables"); variables != "" {
		decoder := json.NewDecoder(bytes.NewBufferString(variables))
		decoder.UseNumber()
		if err := decoder.Decode(&request.Variables); err != nil {
			return request, err
		}
	}
	return request, nil
}
