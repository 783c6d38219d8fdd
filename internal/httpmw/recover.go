package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/archive-ingest/internal/log"
	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log entry.
// onPanic, when set, runs after logging (metrics hook).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity per net/http
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				ctx := r.Context()
				L := log.FromContextOr(ctx, logger).With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				L.Error(ctx, err, "httpserver panic recovered", "panic_stack", string(debug.Stack()))

				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
