// Package chi provides Chi-compatible middleware for x402 payment gating.
// Chi consumes stdlib middleware directly; this package exists so Chi users
// get an import path symmetric with the gin adapter.
package chi

import (
	"net/http"

	"github.com/payrail/x402gate/gate"
)

// Middleware adapts a Gate to Chi's middleware signature. OPTIONS requests
// bypass gating for CORS preflight support.
func Middleware(g *gate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		gated := g.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}
