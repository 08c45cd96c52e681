package federationtesting

const AccountsSDL = `
extend type Query {
	me: User
}

type User @key(fields: "id") {
	id: ID!
	name: String!
	username: String!
}
`

const ProductsSDL = `
extend type Query {
	topProducts(first: Int = 5): [Product]
}

extend type Mutation {
	setPrice(upc: String!, price: Int!): Product
}

type Product @key(fields: "upc") {
	upc: String!
	name: String!
	price: Int!
	weight: Int
}
`

const ReviewsSDL = `
type Review {
	body: String!
	author: User @provides(fields: "username")
	product: Product
}

extend type User @key(fields: "id") {
	id: ID! @external
	username: String! @external
	reviews: [Review]
}

extend type Product @key(fields: "upc") {
	upc: String! @external
	reviews: [Review]
}
`

const InventorySDL = `
extend type Product @key(fields: "upc") {
	upc: String! @external
	weight: Int @external
	inStock: Boolean
	shippingEstimate: Int @requires(fields: "weight")
}
`

func user(id, name, username string) map[string]interface{} {
	return map[string]interface{}{
		"__typename": "User",
		"id":         id,
		"name":       name,
		"username":   username,
	}
}

func product(upc, name string, price, weight int) map[string]interface{} {
	return map[string]interface{}{
		"__typename": "Product",
		"upc":        upc,
		"name":       name,
		"price":      price,
		"weight":     weight,
	}
}

// NewAccounts owns User.
func NewAccounts() *Service {
	users := map[string]map[string]interface{}{
		"1": user("1", "Ada Lovelace", "@ada"),
		"2": user("2", "Alan Turing", "@complete"),
	}
	return &Service{
		Name: "accounts",
		SDL:  AccountsSDL,
		Root: map[string]interface{}{
			"me": users["1"],
		},
		Entities: map[string]EntityResolver{
			"User": func(representation map[string]interface{}) map[string]interface{} {
				id, _ := representation["id"].(string)
				return users[id]
			},
		},
	}
}

// NewProducts owns Product.
func NewProducts() *Service {
	products := map[string]map[string]interface{}{
		"table": product("table", "Table", 899, 100),
		"couch": product("couch", "Couch", 1299, 1000),
	}
	return &Service{
		Name: "products",
		SDL:  ProductsSDL,
		Root: map[string]interface{}{
			"topProducts": []interface{}{products["table"], products["couch"]},
			"setPrice":    product("table", "Table", 999, 100),
		},
		Entities: map[string]EntityResolver{
			"Product": func(representation map[string]interface{}) map[string]interface{} {
				upc, _ := representation["upc"].(string)
				return products[upc]
			},
		},
	}
}

// NewReviews extends User and Product with reviews.
func NewReviews() *Service {
	review := func(body, authorID, username, upc string) map[string]interface{} {
		return map[string]interface{}{
			"__typename": "Review",
			"body":       body,
			"author":     map[string]interface{}{"__typename": "User", "id": authorID, "username": username},
			"product":    map[string]interface{}{"__typename": "Product", "upc": upc},
		}
	}
	byUser := map[string][]interface{}{
		"1": {review("A highly effective form of birth control.", "1", "@ada", "table")},
		"2": {review("Fedoras are one of the most fashionable hats around.", "2", "@complete", "couch")},
	}
	byProduct := map[string][]interface{}{
		"table": byUser["1"],
		"couch": byUser["2"],
	}
	return &Service{
		Name: "reviews",
		SDL:  ReviewsSDL,
		Entities: map[string]EntityResolver{
			"User": func(representation map[string]interface{}) map[string]interface{} {
				id, _ := representation["id"].(string)
				return map[string]interface{}{"__typename": "User", "id": id, "reviews": byUser[id]}
			},
			"Product": func(representation map[string]interface{}) map[string]interface{} {
				upc, _ := representation["upc"].(string)
				return map[string]interface{}{"__typename": "Product", "upc": upc, "reviews": byProduct[upc]}
			},
		},
	}
}

// NewInventory extends Product and requires weight from products.
func NewInventory() *Service {
	return &Service{
		Name: "inventory",
		SDL:  InventorySDL,
		Entities: map[string]EntityResolver{
			"Product": func(representation map[string]interface{}) map[string]interface{} {
				upc, _ := representation["upc"].(string)
				weight, _ := representation["weight"].(float64)
				return map[string]interface{}{
					"__typename":       "Product",
					"upc":              upc,
					"inStock":          upc == "table",
					"shippingEstimate": int(weight) / 2,
				}
			},
		},
	}
}
