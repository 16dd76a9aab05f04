package middleware

import (
	"context"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
)

// Middleware allows wrapping a SessionMap to add behavior.
type Middleware func(ports.SessionMap) ports.SessionMap

// Chain wraps m with the middlewares. The first middleware is the outermost.
func Chain(m ports.SessionMap, mws ...Middleware) ports.SessionMap {
	for i := len(mws) - 1; i >= 0; i-- {
		m = mws[i](m)
	}
	return m
}

// thenFuture derives a future that applies fn to the result of f.
// Cancelling the derived future cancels f.
func thenFuture(ctx context.Context, f *ports.Future[*domain.Session], fn func(*domain.Session) (*domain.Session, error)) *ports.Future[*domain.Session] {
	return ports.Go(ctx, func(ctx context.Context) (*domain.Session, error) {
		s, err := f.Wait(ctx)
		if ctx.Err() != nil {
			f.Cancel()
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
		return fn(s)
	})
}
