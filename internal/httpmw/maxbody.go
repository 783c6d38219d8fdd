package httpmw

import "net/http"

// MaxBody caps the request body at limit bytes. Reading past the cap fails
// with *http.MaxBytesError. A request that declares a larger Content-Length
// is answered by tooLarge before any of the body is read; nil tooLarge
// answers with a bare 413.
func MaxBody(limit int64, tooLarge http.Handler) func(http.Handler) http.Handler {
	if tooLarge == nil {
		tooLarge = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		})
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				// the client would otherwise stream up to limit bytes for nothing
				w.Header().Set("Connection", "close")
				tooLarge.ServeHTTP(w, r)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
