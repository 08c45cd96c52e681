package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/TykTechnologies/graphql-federation-gateway/internal/federationtesting"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/operationreport"
)

func compose(t *testing.T, services ...[2]string) *composition.ComposedSchema {
	t.Helper()
	var schemas []*federation.AbstractSchema
	for _, service := range services {
		schema, err := federation.ParseServiceSDL(service[0], service[1])
		require.NoError(t, err)
		schemas = append(schemas, schema)
	}
	composed, err := composition.Compose(schemas)
	require.NoError(t, err)
	return composed
}

func productsSchema(t *testing.T) *composition.ComposedSchema {
	return compose(t,
		[2]string{"accounts", federationtesting.AccountsSDL},
		[2]string{"products", federationtesting.ProductsSDL},
		[2]string{"reviews", federationtesting.ReviewsSDL},
		[2]string{"inventory", federationtesting.InventorySDL},
	)
}

func planQuery(t *testing.T, composed *composition.ComposedSchema, query string) (*QueryPlan, error) {
	t.Helper()
	doc, errs := gqlparser.LoadQuery(composed.Schema, query)
	require.Empty(t, errs)
	require.Len(t, doc.Operations, 1)
	return NewPlanner(composed).Plan(doc.Operations[0], doc.Fragments)
}

func services(queryPlan *QueryPlan) []string {
	var out []string
	for _, subOperation := range queryPlan.SubOperations {
		out = append(out, subOperation.Service)
	}
	return out
}

func TestPlanner_Plan(t *testing.T) {
	composed := productsSchema(t)

	t.Run("fields of a single service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { id name } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 1)

		sub := queryPlan.SubOperations[0]
		assert.Equal(t, "accounts", sub.Service)
		assert.Equal(t, RootKind, sub.Kind)
		assert.Empty(t, sub.DependsOn)
		assert.Equal(t, []string{"me"}, sub.ResponseKeys)
		assert.Contains(t, sub.Document, "me {")
		assert.Equal(t, ast.Query, queryPlan.OperationType)
		assert.Equal(t, []int{0}, queryPlan.Roots())
	})

	t.Run("independent root fields", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { name } topProducts { name } }`)
		require.NoError(t, err)
		assert.Equal(t, []string{"accounts", "products"}, services(queryPlan))
		assert.Equal(t, []int{0, 1}, queryPlan.Roots())
	})

	t.Run("entity extended by another service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { name reviews { body } } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 2)

		root, entity := queryPlan.SubOperations[0], queryPlan.SubOperations[1]
		assert.Equal(t, "accounts", root.Service)
		assert.Contains(t, root.Document, "__typename")
		assert.Contains(t, root.Document, "id")
		assert.NotContains(t, root.Document, "reviews")

		assert.Equal(t, "reviews", entity.Service)
		assert.Equal(t, EntityKind, entity.Kind)
		assert.Equal(t, []int{root.ID}, entity.DependsOn)
		assert.Equal(t, []string{"me"}, entity.BindingPath)
		assert.Equal(t, "User", entity.TypeName)
		assert.Equal(t, federation.FieldSet{"id"}, entity.KeyFields)
		assert.Equal(t, []string{"reviews"}, entity.ResponseKeys)
		assert.Contains(t, entity.Document, "_entities(representations: $representations)")
		assert.Contains(t, entity.Document, "... on User")
		assert.Contains(t, entity.Document, "$representations: [_Any!]!")
		assert.Equal(t, []int{root.ID}, queryPlan.Roots())
		assert.Equal(t, []int{entity.ID}, queryPlan.Dependents(root.ID))
	})

	t.Run("nested entities chain dependencies", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { reviews { product { name } } } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 3)
		assert.Equal(t, []string{"accounts", "reviews", "products"}, services(queryPlan))

		products := queryPlan.SubOperations[2]
		assert.Equal(t, []int{queryPlan.SubOperations[1].ID}, products.DependsOn)
		assert.Equal(t, []string{"me", "reviews", "product"}, products.BindingPath)
		assert.Equal(t, "Product", products.TypeName)
	})

	t.Run("provided fields stay in the providing service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { reviews { author { username } } } }`)
		require.NoError(t, err)
		assert.Equal(t, []string{"accounts", "reviews"}, services(queryPlan))
	})

	t.Run("required fields are selected by the parent", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ topProducts { name shippingEstimate } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 2)

		products, inventory := queryPlan.SubOperations[0], queryPlan.SubOperations[1]
		assert.Contains(t, products.Document, "weight")
		assert.Equal(t, "inventory", inventory.Service)
		assert.Equal(t, federation.FieldSet{"weight"}, inventory.RequiredFields)
		assert.Equal(t, []string{"shippingEstimate"}, inventory.ResponseKeys)
	})

	t.Run("required fields from a third service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me { reviews { product { shippingEstimate } } } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 4)

		var inventory, products *SubOperation
		for _, subOperation := range queryPlan.SubOperations {
			switch subOperation.Service {
			case "inventory":
				inventory = subOperation
			case "products":
				products = subOperation
			}
		}
		require.NotNil(t, inventory)
		require.NotNil(t, products)
		assert.Contains(t, inventory.DependsOn, products.ID)
		assert.Contains(t, products.Document, "weight")
		assert.Empty(t, products.ResponseKeys)

		// topological order
		assert.Equal(t, "inventory", queryPlan.SubOperations[3].Service)
	})

	t.Run("fragments are planned like inline selections", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `
			query Me { me { ...UserFields } }
			fragment UserFields on User { name reviews { body } }`)
		require.NoError(t, err)
		assert.Equal(t, []string{"accounts", "reviews"}, services(queryPlan))
		assert.Contains(t, queryPlan.SubOperations[0].Document, "query Me")
	})

	t.Run("variables are declared where they are used", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `query($first: Int) { topProducts(first: $first) { name } me { name } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 2)

		products, accounts := queryPlan.SubOperations[1], queryPlan.SubOperations[0]
		if products.Service != "products" {
			products, accounts = accounts, products
		}
		assert.Equal(t, []string{"first"}, products.Variables)
		assert.Contains(t, products.Document, "$first: Int")
		assert.Empty(t, accounts.Variables)
	})

	t.Run("mutation on a single service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `mutation { a: setPrice(upc: "table", price: 1) { price } b: setPrice(upc: "couch", price: 2) { price } }`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 1)
		assert.Equal(t, ast.Mutation, queryPlan.OperationType)
		assert.Equal(t, []string{"a", "b"}, queryPlan.SubOperations[0].ResponseKeys)
		assert.Contains(t, queryPlan.SubOperations[0].Document, "mutation")
	})

	t.Run("introspection fields are not delegated", func(t *testing.T) {
		_, err := planQuery(t, composed, `{ __schema { queryType { name } } }`)
		assert.ErrorIs(t, err, operationreport.ErrUnresolvableField)
	})

	t.Run("subscriptions are rejected", func(t *testing.T) {
		_, err := NewPlanner(composed).Plan(&ast.OperationDefinition{Operation: ast.Subscription}, nil)
		assert.ErrorIs(t, err, operationreport.ErrInvalidOperation)
	})

	t.Run("nil operation", func(t *testing.T) {
		_, err := NewPlanner(composed).Plan(nil, nil)
		assert.ErrorIs(t, err, operationreport.ErrInvalidOperation)
	})
}

func TestPlanner_TieBreak(t *testing.T) {
	catalog := [2]string{"catalog", `
		extend type Query { product: Product }
		type Product @key(fields: "upc") { upc: String! name: String }`}
	pricing := [2]string{"pricing", `
		extend type Query { cheapest: Product }
		extend type Product @key(fields: "upc") {
			upc: String! @external
			name: String @external
			color: String @external
			price: Int
		}`}

	for name, composed := range map[string]*composition.ComposedSchema{
		"owner first":     compose(t, catalog, pricing),
		"reference first": compose(t, pricing, catalog),
	} {
		composed := composed
		t.Run(name, func(t *testing.T) {
			queryPlan, err := planQuery(t, composed, `{ cheapest { name price } }`)
			require.NoError(t, err)
			assert.Equal(t, []string{"pricing", "catalog"}, services(queryPlan))
			assert.Equal(t, []string{"name"}, queryPlan.SubOperations[1].ResponseKeys)
		})
	}

	t.Run("field only declared as external", func(t *testing.T) {
		_, err := planQuery(t, compose(t, catalog, pricing), `{ cheapest { color } }`)
		assert.ErrorIs(t, err, operationreport.ErrUnresolvableField)

		var gatewayErr *operationreport.GatewayError
		require.ErrorAs(t, err, &gatewayErr)
		assert.Equal(t, "Product", gatewayErr.TypeName)
		assert.Equal(t, "color", gatewayErr.FieldName)
	})
}

func TestPlanner_MutationsRunSerially(t *testing.T) {
	composed := compose(t,
		[2]string{"a", `
			extend type Query { a: Int }
			extend type Mutation { first: Int }`},
		[2]string{"b", `
			extend type Query { b: Int }
			extend type Mutation { second: Int }`},
	)

	queryPlan, err := planQuery(t, composed, `mutation { first second again: first }`)
	require.NoError(t, err)
	require.Len(t, queryPlan.SubOperations, 3)

	assert.Equal(t, []string{"a", "b", "a"}, services(queryPlan))
	for _, subOperation := range queryPlan.SubOperations {
		assert.Empty(t, subOperation.DependsOn)
	}
	assert.Empty(t, queryPlan.SubOperations[0].After)
	assert.Equal(t, []int{0}, queryPlan.SubOperations[1].After)
	assert.Equal(t, []int{1}, queryPlan.SubOperations[2].After)
	assert.Equal(t, []int{0}, queryPlan.Roots())
	assert.Empty(t, queryPlan.Dependents(0))
}

func TestPlanner_MutationsWaitForEntitySubOperations(t *testing.T) {
	composed := compose(t,
		[2]string{"accounts", federationtesting.AccountsSDL},
		[2]string{"products", federationtesting.ProductsSDL},
		[2]string{"reviews", federationtesting.ReviewsSDL},
		[2]string{"sessions", `extend type Mutation { logout: Boolean }`},
	)

	queryPlan, err := planQuery(t, composed, `mutation { setPrice(upc: "table", price: 1) { reviews { body } } logout }`)
	require.NoError(t, err)
	require.Len(t, queryPlan.SubOperations, 3)

	assert.Equal(t, []string{"products", "reviews", "sessions"}, services(queryPlan))
	assert.Equal(t, []int{0}, queryPlan.SubOperations[1].DependsOn)
	assert.Equal(t, []int{0, 1}, queryPlan.SubOperations[2].After)
	assert.Empty(t, queryPlan.SubOperations[2].DependsOn)
}

func TestPlanner_RootFragments(t *testing.T) {
	composed := productsSchema(t)

	t.Run("literally skipped fragments are not planned", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `mutation {
			... @skip(if: true) { setPrice(upc: "table", price: 1) { upc } }
			... Price @include(if: false)
		}
		fragment Price on Mutation { setPrice(upc: "couch", price: 2) { upc } }`)
		require.NoError(t, err)
		assert.Empty(t, queryPlan.SubOperations)
	})

	t.Run("literally skipped fields are not planned", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ me @skip(if: true) { name } topProducts { name } }`)
		require.NoError(t, err)
		assert.Equal(t, []string{"products"}, services(queryPlan))
	})

	t.Run("conditions on variables stay on the fragment", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `mutation Update($skip: Boolean!) {
			... @skip(if: $skip) { ... on Mutation @include(if: true) { setPrice(upc: "table", price: 1) { upc } } }
		}`)
		require.NoError(t, err)
		require.Len(t, queryPlan.SubOperations, 1)

		sub := queryPlan.SubOperations[0]
		assert.Equal(t, []string{"skip"}, sub.Variables)
		assert.Contains(t, sub.Document, "mutation Update ($skip: Boolean!)")
		assert.Contains(t, sub.Document, "@skip(if: $skip)")
		assert.Contains(t, sub.Document, "@include(if: true)")
		assert.Contains(t, sub.Document, "setPrice(upc: \"table\", price: 1)")
	})

	t.Run("typename only needs no service", func(t *testing.T) {
		queryPlan, err := planQuery(t, composed, `{ __typename }`)
		require.NoError(t, err)
		assert.Empty(t, queryPlan.SubOperations)
	})
}

func TestQueryPlan_Validate(t *testing.T) {
	t.Run("ordering edges sort sub-operations", func(t *testing.T) {
		queryPlan := &QueryPlan{SubOperations: []*SubOperation{
			{ID: 0, After: []int{1}},
			{ID: 1},
		}}
		require.NoError(t, queryPlan.Validate())
		assert.Equal(t, 1, queryPlan.SubOperations[0].ID)
		assert.Equal(t, []int{1}, queryPlan.Roots())
	})

	t.Run("ordering edges take part in cycle detection", func(t *testing.T) {
		queryPlan := &QueryPlan{SubOperations: []*SubOperation{
			{ID: 0, After: []int{1}},
			{ID: 1, DependsOn: []int{0}},
		}}
		assert.ErrorIs(t, queryPlan.Validate(), operationreport.ErrDependencyCycle)
	})

	t.Run("a data dependency replaces an ordering edge", func(t *testing.T) {
		subOperation := &SubOperation{ID: 2}
		subOperation.addOrdering(0)
		subOperation.addOrdering(1)
		subOperation.addDependency(1)
		assert.Equal(t, []int{0}, subOperation.After)
		assert.Equal(t, []int{1}, subOperation.DependsOn)
	})
}
