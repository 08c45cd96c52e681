package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRuntime(t *testing.T) {
	hello := func(ctx context.Context, parent, args map[string]interface{}) (interface{}, error) {
		return "world", nil
	}

	t.Run("invalid schema", func(t *testing.T) {
		_, err := NewLocalRuntime(`type Query { hello: Missing }`, nil)
		assert.Error(t, err)
	})

	t.Run("schema mutations are allowed", func(t *testing.T) {
		runtime, err := NewLocalRuntime(`type Query { hello: String }`, nil)
		require.NoError(t, err)
		assert.Equal(t, ModeLocal, runtime.Mode())

		require.NoError(t, runtime.ExtendSchema(`extend type Query { bye: String }`))
		assert.NotNil(t, runtime.Schema().Query.Fields.ForName("bye"))

		err = runtime.ExtendSchema(`extend type Missing { x: Int }`)
		assert.EqualError(t, err, `extend local schema: type "Missing" is not defined in the local schema`)
		assert.NotNil(t, runtime.Schema().Query.Fields.ForName("bye"))
		assert.Nil(t, runtime.Schema().Types["Missing"])

		assert.Error(t, runtime.ExtendSchema(`extend type Query {`))

		require.NoError(t, runtime.ExtendSchema(`type User { id: ID } extend type User { name: String } extend type Query { me: User }`))
		assert.NotNil(t, runtime.Schema().Types["User"].Fields.ForName("name"))

		assert.NoError(t, runtime.DefineResolvers(Resolvers{"Query": {"hello": hello}}))
		assert.NoError(t, runtime.DefineLoaders(Loaders{"Query": {"bye": func(ctx context.Context, queries []LoaderQuery) ([]interface{}, error) {
			return make([]interface{}, len(queries)), nil
		}}}))
	})

	t.Run("registrations are checked against the schema", func(t *testing.T) {
		runtime, err := NewLocalRuntime(`type Query { hello: String }`, nil)
		require.NoError(t, err)

		assert.EqualError(t, runtime.DefineResolvers(Resolvers{"User": {"name": hello}}), `type "User" is not defined in the local schema`)
		assert.EqualError(t, runtime.DefineLoaders(Loaders{"Query": {"missing": nil}}), `field "missing" is not defined on type "Query"`)
	})

	t.Run("execute without executor", func(t *testing.T) {
		runtime, err := NewLocalRuntime(`type Query { hello: String }`, nil)
		require.NoError(t, err)

		response := runtime.Execute(context.Background(), Request{Query: `{ hello }`})
		require.Len(t, response.Errors, 1)
		assert.Equal(t, "no local executor configured", response.Errors[0].Message)
	})

	t.Run("execute delegates to the local executor", func(t *testing.T) {
		var received *LocalOperation
		runtime, err := NewLocalRuntime(`type Query { hello: String }`, LocalExecutorFunc(func(ctx context.Context, operation *LocalOperation) *Response {
			received = operation
			value, err := operation.Resolvers["Query"]["hello"](ctx, nil, nil)
			require.NoError(t, err)
			data, err := json.Marshal(map[string]interface{}{"hello": value})
			require.NoError(t, err)
			return &Response{Data: data}
		}))
		require.NoError(t, err)
		require.NoError(t, runtime.DefineResolvers(Resolvers{"Query": {"hello": hello}}))

		response := runtime.Execute(context.Background(), Request{Query: `query Hello { hello }`})
		assert.Empty(t, response.Errors)
		assert.JSONEq(t, `{"hello":"world"}`, string(response.Data))

		require.NotNil(t, received)
		assert.Equal(t, "Hello", received.Operation.Name)

		response = runtime.Execute(context.Background(), Request{Query: `{ goodbye }`})
		assert.NotEmpty(t, response.Errors)
	})
}
