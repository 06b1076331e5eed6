package gateway

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kmelchor/floodgate/internal/admission"
)

// RateLimit consults the admission controller before anything is proxied.
// policy is read per request so a config reload takes effect immediately.
func RateLimit(
	ctrl admission.Controller,
	policy func() admission.Policy,
	keyFn KeyFunc,
	skipPaths map[string]struct{},
	onDelayed func(d time.Duration),
	onLimited func(),
	onError func(),
) Middleware {
	if keyFn == nil {
		keyFn = DefaultKeyFunc("", false)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			p := policy()

			dec, err := admission.AdmitWait(r.Context(), ctrl, key, p)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					// client went away mid-delay; nothing to write
					return
				}
				if onError != nil {
					onError()
				}
				writeJSON(w, http.StatusServiceUnavailable, "limiter_error", "admission controller unavailable")
				return
			}

			if dec.Delayed > 0 && onDelayed != nil {
				onDelayed(dec.Delayed)
			}

			if dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatFloat(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(maxInt(dec.Remaining, 0)))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetUnixSec, 10))
			}

			if dec.Verdict != admission.Allow {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec(dec.Wait)))
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSec rounds the wait up to whole seconds, never below 1.
func retryAfterSec(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
