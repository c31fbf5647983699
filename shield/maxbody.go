package shield

import "net/http"

// MaxJSONBody returns middleware that caps the request body size for all
// requests. The API accepts only small JSON bodies; anything larger is a
// client error surfaced by the JSON decoder as http.MaxBytesError.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
