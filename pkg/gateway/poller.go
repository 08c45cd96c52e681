package gateway

import (
	"context"
	"time"

	log "github.com/jensneuse/abstractlogger"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation/composition"
)

// StartPolling re-introspects the services every interval until ctx is done
// or the gateway is closed. Calling it on a polling gateway is a no-op.
func (g *Gateway) StartPolling(ctx context.Context, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil || g.closed.Load() || interval <= 0 {
		return
	}

	ctx, g.stop = context.WithCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Reload(ctx)
			}
		}
	}()
}

// Reload introspects and composes the services again. A failed reload keeps
// the current schema. It reports whether the schema changed.
func (g *Gateway) Reload(ctx context.Context) bool {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	next, err := g.compose(ctx)
	if err != nil {
		g.logger.Error("Gateway.Reload",
			log.Error(err),
		)
		return false
	}

	current := g.state.Load()
	if current.composed.SDL == next.composed.SDL {
		return false
	}
	g.state.Store(next)

	g.logger.Info("Gateway.Reload",
		log.Int("types", len(next.composed.TypeNames)),
	)

	g.mu.Lock()
	hooks := append([]func(*composition.ComposedSchema){}, g.onChange...)
	g.mu.Unlock()
	for _, hook := range hooks {
		hook(next.composed)
	}
	return true
}

// Close stops polling and waits for a running reload to finish.
func (g *Gateway) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	stop := g.stop
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
	g.wg.Wait()
}
