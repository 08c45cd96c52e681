package gateway

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/engine/plan"
)

// planCache keeps the plans of recently executed operations. Plans only
// depend on the composed schema, so a cache lives as long as its state.
type planCache struct {
	plans *lru.Cache
	key   func(query, operationName string) uint64
}

// cachedPlan keeps the request a plan was built for, so a hash collision
// rebuilds instead of returning another operation's plan.
type cachedPlan struct {
	query         string
	operationName string
	plan          *plan.QueryPlan
}

func newPlanCache(size int) (*planCache, error) {
	plans, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &planCache{plans: plans, key: planCacheKey}, nil
}

func planCacheKey(query, operationName string) uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(query)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(operationName)
	return digest.Sum64()
}

// load returns the cached plan or builds and caches it. Failed builds are
// not cached.
func (c *planCache) load(query, operationName string, build func() (*plan.QueryPlan, error)) (*plan.QueryPlan, error) {
	key := c.key(query, operationName)
	if value, ok := c.plans.Get(key); ok {
		cached := value.(*cachedPlan)
		if cached.query == query && cached.operationName == operationName {
			return cached.plan, nil
		}
	}
	queryPlan, err := build()
	if err != nil {
		return nil, err
	}
	c.plans.Add(key, &cachedPlan{query: query, operationName: operationName, plan: queryPlan})
	return queryPlan, nil
}

func (c *planCache) len() int {
	return c.plans.Len()
}
