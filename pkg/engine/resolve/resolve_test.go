package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"go.uber.org/goleak"

	"github.com/TykTechnologies/graphql-federation-gateway/internal/federationtesting"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

type testGateway struct {
	composed *composition.ComposedSchema
	executor *Executor
	services map[string]*federationtesting.Service
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	services := []*federationtesting.Service{
		federationtesting.NewAccounts(),
		federationtesting.NewProducts(),
		federationtesting.NewReviews(),
		federationtesting.NewInventory(),
	}

	gw := &testGateway{services: map[string]*federationtesting.Service{}}
	var configs federation.ServiceConfigs
	var schemas []*federation.AbstractSchema
	for _, service := range services {
		server := service.Start()
		t.Cleanup(server.Close)
		gw.services[service.Name] = service

		configs = append(configs, federation.ServiceConfig{Name: service.Name, URL: server.URL})
		schema, err := federation.ParseServiceSDL(service.Name, service.SDL)
		require.NoError(t, err)
		schemas = append(schemas, schema)
	}

	composed, err := composition.Compose(schemas)
	require.NoError(t, err)
	gw.composed = composed
	gw.executor = NewExecutor(nil, configs, nil)
	return gw
}

func (g *testGateway) plan(t *testing.T, query string) *plan.QueryPlan {
	t.Helper()
	doc, errs := gqlparser.LoadQuery(g.composed.Schema, query)
	require.Empty(t, errs)
	queryPlan, err := plan.NewPlanner(g.composed).Plan(doc.Operations[0], doc.Fragments)
	require.NoError(t, err)
	return queryPlan
}

func (g *testGateway) execute(t *testing.T, ctx context.Context, query string, variables map[string]interface{}) *MergedResult {
	t.Helper()
	return g.executor.Execute(ctx, g.plan(t, query), variables)
}

func TestExecutor_Execute(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	t.Run("single service", func(t *testing.T) {
		result := gw.execute(t, ctx, `{ me { id name } }`, nil)
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{"me":{"id":"1","name":"Ada Lovelace"}}`, string(result.Data))
	})

	t.Run("entities across services", func(t *testing.T) {
		result := gw.execute(t, ctx, `{ me { name reviews { body product { name shippingEstimate inStock } } } }`, nil)
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{"me":{"name":"Ada Lovelace","reviews":[{
			"body":"A highly effective form of birth control.",
			"product":{"name":"Table","shippingEstimate":50,"inStock":true}
		}]}}`, string(result.Data))
	})

	t.Run("entity lists", func(t *testing.T) {
		result := gw.execute(t, ctx, `{ topProducts { name inStock reviews { body author { username } } } }`, nil)
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{"topProducts":[
			{"name":"Table","inStock":true,"reviews":[{"body":"A highly effective form of birth control.","author":{"username":"@ada"}}]},
			{"name":"Couch","inStock":false,"reviews":[{"body":"Fedoras are one of the most fashionable hats around.","author":{"username":"@complete"}}]}
		]}`, string(result.Data))
	})

	t.Run("response keeps the client shape", func(t *testing.T) {
		result := gw.execute(t, ctx, `
			query { who: me { ...UserName __typename } }
			fragment UserName on User { alias: name }`, nil)
		assert.Empty(t, result.Errors)
		assert.Equal(t, `{"who":{"alias":"Ada Lovelace","__typename":"User"}}`, string(result.Data))
	})

	t.Run("skip and include", func(t *testing.T) {
		result := gw.execute(t, ctx, `query($withName: Boolean!) { me { id name @include(if: $withName) username @skip(if: true) } }`,
			map[string]interface{}{"withName": false})
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{"me":{"id":"1"}}`, string(result.Data))
	})

	t.Run("variables reach the owning service", func(t *testing.T) {
		result := gw.execute(t, ctx, `query($first: Int) { topProducts(first: $first) { upc } }`, map[string]interface{}{"first": 1})
		assert.Empty(t, result.Errors)

		queries := gw.services["products"].Queries()
		assert.Contains(t, queries[len(queries)-1], "$first: Int")
	})
}

func TestExecutor_PartialFailure(t *testing.T) {
	t.Run("failed dependency skips dependents, siblings resolve", func(t *testing.T) {
		gw := newTestGateway(t)
		gw.services["products"].SetUnavailable(true)

		result := gw.execute(t, context.Background(), `{ me { name } topProducts { name inStock } }`, nil)
		assert.JSONEq(t, `{"me":{"name":"Ada Lovelace"},"topProducts":null}`, string(result.Data))

		require.Len(t, result.Errors, 2)
		assert.Equal(t, []interface{}{"topProducts"}, result.Errors[0].Path)
		assert.Equal(t, "SubOperationError", result.Errors[0].Extensions["code"])
		assert.Equal(t, "products", result.Errors[0].Extensions["serviceName"])

		assert.Equal(t, []interface{}{"topProducts", "inStock"}, result.Errors[1].Path)
		assert.Contains(t, result.Errors[1].Message, "skipped")
		assert.Equal(t, "inventory", result.Errors[1].Extensions["serviceName"])

		assert.Zero(t, gw.services["inventory"].Requests())
	})

	t.Run("failed entity call nulls its fields only", func(t *testing.T) {
		gw := newTestGateway(t)
		gw.services["inventory"].SetUnavailable(true)

		result := gw.execute(t, context.Background(), `{ topProducts { name inStock } }`, nil)
		assert.JSONEq(t, `{"topProducts":[{"name":"Table","inStock":null},{"name":"Couch","inStock":null}]}`, string(result.Data))

		require.Len(t, result.Errors, 1)
		assert.Equal(t, []interface{}{"topProducts", "inStock"}, result.Errors[0].Path)
	})

	t.Run("cancelled request issues no calls", func(t *testing.T) {
		gw := newTestGateway(t)
		queryPlan := gw.plan(t, `{ me { name reviews { body } } }`)

		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := gw.executor.Execute(ctx, queryPlan, nil)
		assert.JSONEq(t, `{"me":null}`, string(result.Data))
		require.Len(t, result.Errors, 2)
		assert.Contains(t, result.Errors[0].Message, context.Canceled.Error())
		assert.Zero(t, gw.services["accounts"].Requests())
		assert.Zero(t, gw.services["reviews"].Requests())
	})
}

func TestExecutor_Mutations(t *testing.T) {
	t.Run("failed mutation field does not skip later fields", func(t *testing.T) {
		var mu sync.Mutex
		var calls []string
		newServer := func(name string, handler http.HandlerFunc) *httptest.Server {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				calls = append(calls, name)
				mu.Unlock()
				handler(w, r)
			}))
			t.Cleanup(server.Close)
			return server
		}
		a := newServer("a", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		b := newServer("b", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"doB":2}}`))
		})

		var schemas []*federation.AbstractSchema
		for _, sdl := range [][2]string{
			{"a", `extend type Query { a: Int } extend type Mutation { doA: Int }`},
			{"b", `extend type Query { b: Int } extend type Mutation { doB: Int }`},
		} {
			schema, err := federation.ParseServiceSDL(sdl[0], sdl[1])
			require.NoError(t, err)
			schemas = append(schemas, schema)
		}
		composed, err := composition.Compose(schemas)
		require.NoError(t, err)

		doc, errs := gqlparser.LoadQuery(composed.Schema, `mutation { doA doB }`)
		require.Empty(t, errs)
		queryPlan, err := plan.NewPlanner(composed).Plan(doc.Operations[0], doc.Fragments)
		require.NoError(t, err)

		executor := NewExecutor(nil, federation.ServiceConfigs{{Name: "a", URL: a.URL}, {Name: "b", URL: b.URL}}, nil)
		result := executor.Execute(context.Background(), queryPlan, nil)

		assert.JSONEq(t, `{"doA":null,"doB":2}`, string(result.Data))
		require.Len(t, result.Errors, 1)
		assert.Equal(t, []interface{}{"doA"}, result.Errors[0].Path)
		assert.NotContains(t, result.Errors[0].Message, "skipped")
		assert.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("skipped root fragment is never sent", func(t *testing.T) {
		gw := newTestGateway(t)

		result := gw.execute(t, context.Background(), `mutation { ... @skip(if: true) { setPrice(upc: "table", price: 1) { upc } } }`, nil)
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{}`, string(result.Data))
		assert.Zero(t, gw.services["products"].Requests())
	})

	t.Run("fragment skipped by a variable is not executed by the service", func(t *testing.T) {
		gw := newTestGateway(t)

		result := gw.execute(t, context.Background(), `mutation ($skip: Boolean!) { ... @skip(if: $skip) { setPrice(upc: "table", price: 1) { upc } } }`,
			map[string]interface{}{"skip": true})
		assert.Empty(t, result.Errors)
		assert.JSONEq(t, `{}`, string(result.Data))

		queries := gw.services["products"].Queries()
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0], "@skip(if: $skip)")
	})
}

func TestExecutor_TypenameOnly(t *testing.T) {
	gw := newTestGateway(t)

	result := gw.execute(t, context.Background(), `{ __typename }`, nil)
	assert.Empty(t, result.Errors)
	assert.JSONEq(t, `{"__typename":"Query"}`, string(result.Data))
	for _, service := range gw.services {
		assert.Zero(t, service.Requests())
	}
}

func TestExecutor_InternalErrors(t *testing.T) {
	report := &operationreport.Report{}
	report.AddError(errors.New("visible"), "me")
	report.AddInternalError(errors.New("write response: json: unsupported value"))

	result := NewExecutor(nil, nil, nil).mergedResult(json.RawMessage(`{"me":null}`), report)
	assert.Nil(t, result.Data)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "visible", result.Errors[0].Message)
	assert.Equal(t, operationreport.InternalErrorMessage, result.Errors[1].Message)

	out, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"data":null`)
	assert.NotContains(t, string(out), "unsupported value")
}

func TestExecutor_ServiceErrors(t *testing.T) {
	accounts, err := federation.ParseServiceSDL("accounts", federationtesting.AccountsSDL)
	require.NoError(t, err)
	composed, err := composition.Compose([]*federation.AbstractSchema{accounts})
	require.NoError(t, err)

	run := func(t *testing.T, response string) *MergedResult {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(response))
		}))
		defer server.Close()

		doc, errs := gqlparser.LoadQuery(composed.Schema, `{ me { name } }`)
		require.Empty(t, errs)
		queryPlan, err := plan.NewPlanner(composed).Plan(doc.Operations[0], doc.Fragments)
		require.NoError(t, err)

		executor := NewExecutor(nil, federation.ServiceConfigs{{Name: "accounts", URL: server.URL}}, nil)
		return executor.Execute(context.Background(), queryPlan, nil)
	}

	t.Run("errors next to data are forwarded", func(t *testing.T) {
		result := run(t, `{"data":{"me":{"name":"Ada"}},"errors":[{"message":"partial"}]}`)
		assert.JSONEq(t, `{"me":{"name":"Ada"}}`, string(result.Data))
		require.Len(t, result.Errors, 1)
		assert.Equal(t, operationreport.ExternalError{
			Message:    "partial",
			Path:       []interface{}{},
			Extensions: map[string]interface{}{"serviceName": "accounts"},
		}, result.Errors[0])
	})

	t.Run("errors without data fail the sub-operation", func(t *testing.T) {
		result := run(t, `{"errors":[{"message":"boom"}]}`)
		assert.JSONEq(t, `{"me":null}`, string(result.Data))
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Message, "boom")
		assert.Equal(t, []interface{}{"me"}, result.Errors[0].Path)
	})

	t.Run("result marshals as a graphql response", func(t *testing.T) {
		result := run(t, `{"data":{"me":{"name":"Ada"}}}`)
		out, err := json.Marshal(result)
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":{"me":{"name":"Ada"}}}`, string(out))
	})
}

func TestMergeObjects(t *testing.T) {
	dst := map[string]interface{}{
		"me": map[string]interface{}{"id": "1", "reviews": []interface{}{map[string]interface{}{"body": "a"}}},
	}
	mergeObjects(dst, map[string]interface{}{
		"me": map[string]interface{}{"name": "Ada", "reviews": []interface{}{map[string]interface{}{"rating": 5}}},
	})
	assert.Equal(t, map[string]interface{}{
		"me": map[string]interface{}{
			"id":      "1",
			"name":    "Ada",
			"reviews": []interface{}{map[string]interface{}{"body": "a", "rating": 5}},
		},
	}, dst)
}

func TestCollectObjects(t *testing.T) {
	data := map[string]interface{}{
		"search": []interface{}{
			map[string]interface{}{"__typename": "User", "id": "1"},
			nil,
			map[string]interface{}{"__typename": "Product", "upc": "table"},
			[]interface{}{map[string]interface{}{"__typename": "User", "id": "2"}},
		},
	}
	users := collectObjects(data, []string{"search"}, "User")
	require.Len(t, users, 2)
	assert.Equal(t, "1", users[0]["id"])
	assert.Equal(t, "2", users[1]["id"])

	assert.Empty(t, collectObjects(data, []string{"missing"}, "User"))
}
