package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/colemarsh/signet/internal/security"
	pkghttp "github.com/colemarsh/signet/pkg/http"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIP resolves the real client address once per request and stores it in
// the request context. Requests whose address cannot be determined are
// rejected; the fishing defense cannot key on an unknown source.
func ClientIP(config *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := pkghttp.ExtractClientIP(r, config)
			if !ok {
				pkghttp.WriteBadRequest(w, pkghttp.CodeValidationError, "Unable to determine client address")
				return
			}
			ctx := context.WithValue(r.Context(), clientIPKey, addr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromContext returns the address stored by ClientIP.
func ClientIPFromContext(ctx context.Context) (netip.Addr, bool) {
	addr, ok := ctx.Value(clientIPKey).(netip.Addr)
	return addr, ok
}

// FishingGate rejects requests from permanently blocked addresses and from
// addresses that exceeded the failure budget. It runs before any token is
// looked at, so a blocked attacker learns nothing about token validity.
// Requires ClientIP upstream.
func FishingGate(blocklist *security.Blocklist, limiter *security.FailureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := ClientIPFromContext(r.Context())
			if !ok {
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			if blocklist.Contains(r.Context(), addr) {
				pkghttp.WriteForbidden(w, pkghttp.CodeIPBlocked, "Access denied. Your IP address has been blocked due to suspicious activity.")
				return
			}

			if exceeded, retryAfter := limiter.Exceeded(addr, time.Now()); exceeded {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				pkghttp.WriteTooManyRequests(w, seconds, "Too many failed signing attempts. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
