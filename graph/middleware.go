package graph

import (
	"context"
	"time"

	"github.com/spicelabs/spice/graph/emit"
)

// Middleware wraps a node's Run call, typically for cross-cutting concerns
// (logging, metrics, timeout, tracing) rather than business logic. The
// chain is evaluated outermost-first, matching the order Use was called in.
type Middleware func(next NodeRunFunc) NodeRunFunc

// NodeRunFunc is the shape a Node.Run call and every middleware layer share.
type NodeRunFunc func(ctx context.Context, nc NodeContext) (NodeResult, error)

// chain composes middleware around a base NodeRunFunc, outermost first, so
// mws[0] observes the call before mws[1] and so on.
func chain(base NodeRunFunc, mws []Middleware) NodeRunFunc {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// LoggingMiddleware emits a start/end log line around every node run via e.
// Failures are logged at error level; a short-circuited chain (an earlier
// middleware returning without calling next) never reaches this log.
func LoggingMiddleware(e emit.Emitter) Middleware {
	return func(next NodeRunFunc) NodeRunFunc {
		return func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			e.Emit(emit.Event{NodeID: nc.NodeID, RunID: nc.RunID, Msg: "node_start"})
			result, err := next(ctx, nc)
			if err != nil {
				e.Emit(emit.Event{
					NodeID: nc.NodeID,
					RunID:  nc.RunID,
					Msg:    "node_error",
					Meta:   map[string]interface{}{"error": err.Error()},
				})
			} else {
				e.Emit(emit.Event{NodeID: nc.NodeID, RunID: nc.RunID, Msg: "node_end"})
			}
			return result, err
		}
	}
}

// MetricsMiddleware records per-node latency and outcome on m.
func MetricsMiddleware(m *Metrics) Middleware {
	return func(next NodeRunFunc) NodeRunFunc {
		return func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			start := time.Now()
			m.nodeInFlight.Inc()
			defer m.nodeInFlight.Dec()
			result, err := next(ctx, nc)
			m.nodeDuration.WithLabelValues(nc.NodeID).Observe(time.Since(start).Seconds())
			if err != nil {
				m.nodeFailures.WithLabelValues(nc.NodeID).Inc()
			}
			return result, err
		}
	}
}

// TimeoutMiddleware applies a fixed ceiling to every node run regardless of
// per-node NodePolicy — use for a hard global ceiling distinct from the
// runner's own per-node timeout resolution in timeout.go.
func TimeoutMiddleware(ceiling time.Duration) Middleware {
	return func(next NodeRunFunc) NodeRunFunc {
		return func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			if ceiling <= 0 {
				return next(ctx, nc)
			}
			timeoutCtx, cancel := context.WithTimeout(ctx, ceiling)
			defer cancel()
			return next(timeoutCtx, nc)
		}
	}
}
