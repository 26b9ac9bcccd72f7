package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Provenance identifies where a mutation request came from
type Provenance struct {
	SourceAddress string
	AgentString   string
}

type provenanceKey struct{}

// WithProvenance attaches request provenance to ctx
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// ProvenanceFromContext returns the provenance in ctx, zero when absent
func ProvenanceFromContext(ctx context.Context) Provenance {
	p, _ := ctx.Value(provenanceKey{}).(Provenance)
	return p
}

// ProvenanceMiddleware records the client address and user agent of each request
func ProvenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Provenance{
			SourceAddress: clientAddress(r),
			AgentString:   r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(WithProvenance(r.Context(), p)))
	})
}

// clientAddress prefers the first X-Forwarded-For hop when it is a valid IP
// and falls back to the peer address otherwise
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
