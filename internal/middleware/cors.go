// Package middleware provides HTTP middleware for the chat shell server.
package middleware

import "net/http"

const (
	corsMethods = "GET, POST, PUT, OPTIONS"
	corsHeaders = "Content-Type"
)

// CORS returns middleware that handles CORS headers. A "*" entry opens
// the server to any origin without credentials; listed origins are echoed
// back with credentials. Preflights from other origins get 403.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]struct{}, len(allowedOrigins))
	anyOrigin := false
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		explicit[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			allowed := true
			if _, ok := explicit[origin]; ok && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else if anyOrigin {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				allowed = origin == ""
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.WriteHeader(http.StatusOK)
		})
	}
}
