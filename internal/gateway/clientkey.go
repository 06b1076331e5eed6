package gateway

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the rate-limit partition key for a request.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc keys clients by network address: the first X-Forwarded-For
// hop when the deployment trusts its front proxy, else the RemoteAddr host.
// A non-empty keyHeader takes precedence for deployments that can identify
// callers properly. Address identity is coarse on purpose: clients behind a
// shared NAT or proxy count as one.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				// first entry is the originating client
				if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
