// Package federationgateway is a federated GraphQL gateway written in go.
//
// About federation
//
// A federated graph is split across independent GraphQL services. Each service
// exposes its part of the schema through `_service { sdl }` and marks the types
// it shares with other services as entities using @key. Services extend
// entities they do not own and resolve them through `_entities`.
//
// About this module
//
// The gateway introspects the configured services, composes their schemas into
// one schema and answers client operations by splitting them into
// sub-operations per service, running those concurrently in dependency order
// and merging the partial results:
//
// - pkg/federation/introspection fetches the service schemas
// - pkg/federation/composition merges them and records entity owners
// - pkg/engine/plan turns a client operation into a query plan
// - pkg/engine/resolve executes a plan against the services
// - pkg/gateway ties it together and guards the schema against local mutation
// - pkg/http serves a gateway runtime over HTTP
//
// The gateway binary lives in cmd/gateway.
package federationgateway
