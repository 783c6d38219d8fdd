package httpmw

import "net/http"

// Security note: CSRF protection is not implemented. The upload API is
// stateless (no cookies, no sessions) and serves JSON only.

// apiCSP forbids loading anything, responses are never rendered as documents
const apiCSP = "default-src 'none'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'; object-src 'none'; sandbox"

// SecurityHeaders is middleware that adds common security headers to HTTP responses
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// Require HTTPS for one year, including subdomains, and allow preload
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")

		h.Set("Content-Security-Policy", apiCSP)

		// Disable MIME type sniffing, archive names are echoed back in JSON bodies
		h.Set("X-Content-Type-Options", "nosniff")

		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")

		// upload results must never be cached by intermediaries
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
