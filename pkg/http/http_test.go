package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/gateway"
)

func newHelloRuntime(t *testing.T) gateway.Runtime {
	t.Helper()
	runtime, err := gateway.NewLocalRuntime(`type Query { hello(name: String): String }`,
		gateway.LocalExecutorFunc(func(ctx context.Context, operation *gateway.LocalOperation) *gateway.Response {
			name, _ := operation.Variables["name"].(string)
			if name == "" {
				name = "world"
			}
			data, err := json.Marshal(map[string]interface{}{"hello": name})
			require.NoError(t, err)
			return &gateway.Response{Data: data}
		}))
	require.NoError(t, err)
	return runtime
}

func TestGraphQLHTTPRequestHandler_ServeHTTP(t *testing.T) {
	handler := NewGraphqlHTTPHandler(newHelloRuntime(t), abstractlogger.NoopLogger)

	t.Run("should successfully handle post request and return 200 OK", func(t *testing.T) {
		body := []byte(`{"query":"query($name: String) { hello(name: $name) }","variables":{"name":"Ada"}}`)
		req, err := http.NewRequest(http.MethodPost, "http://localhost:8080/graphql", bytes.NewBuffer(body))
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, httpContentTypeApplicationJson, w.Header().Get(httpHeaderContentType))
		assert.JSONEq(t, `{"data":{"hello":"Ada"}}`, w.Body.String())
	})

	t.Run("should handle get request", func(t *testing.T) {
		values := url.Values{}
		values.Set("query", `{ hello }`)
		req, err := http.NewRequest(http.MethodGet, "http://localhost:8080/graphql?"+values.Encode(), nil)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
	})

	t.Run("should return graphql errors with 200 OK when query does not fit to schema", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "http://localhost:8080/graphql", bytes.NewBufferString(`{"query":"{ goodbye }"}`))
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data   interface{}   `json:"data"`
			Errors []interface{} `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Errors)
		assert.Nil(t, response.Data)
		assert.Contains(t, w.Body.String(), `"data":null`)
	})

	t.Run("should return 400 Bad Request for malformed body", func(t *testing.T) {
		for _, body := range []string{`{"query":`, `{}`, `{"query":"{ hello }","variables":[]}`} {
			req, err := http.NewRequest(http.MethodPost, "http://localhost:8080/graphql", bytes.NewBufferString(body))
			require.NoError(t, err)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})

	t.Run("should return 405 for other methods", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, "http://localhost:8080/graphql", nil)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
