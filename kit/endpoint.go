// Package kit is the transport-neutral endpoint layer shared by the HTTP
// routes and the MCP tools of the consent service.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/consentclick/idgen"
)

// Endpoint is one service operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestID assigns a request ID unless the context already carries one.
func RequestID() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, newRequestID())
			}
			return next(ctx, req)
		}
	}
}

// Logging logs each call with its transport, request ID and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Info("kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}
