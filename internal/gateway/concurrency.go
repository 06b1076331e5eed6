package gateway

import (
	"context"
	"net/http"
	"time"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration // 0 waits until the request context ends
	OnRejected     func()
}

// Concurrency caps in-flight requests with a channel semaphore. Requests
// that cannot get a slot in time are shed with 503.
func Concurrency(opts ConcurrencyOptions) Middleware {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	sem := make(chan struct{}, opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if opts.AcquireTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.AcquireTimeout)
				defer cancel()
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			case <-ctx.Done():
				if opts.OnRejected != nil {
					opts.OnRejected()
				}
				writeJSON(w, http.StatusServiceUnavailable, "overloaded", "Too many concurrent requests")
			}
		})
	}
}
