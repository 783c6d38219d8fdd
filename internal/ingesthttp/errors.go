package ingesthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/archive-ingest/internal/ingest"
	"github.com/keithlinneman/archive-ingest/internal/log"
)

const (
	reasonInvalidParameter = "invalid_parameter"
	reasonInvalidRequest   = "invalid_request"
	reasonExtraction       = "extraction_failed"
	reasonInternal         = "internal"
)

// requestError is a malformed request caught before the pipeline runs
type requestError struct {
	reason string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badParameter(name, value string) error {
	return &requestError{
		reason: reasonInvalidParameter,
		msg:    fmt.Sprintf("invalid %s %q", name, value),
	}
}

// classify maps an error to the status code and body returned to the client.
// Internal details never leave the process.
func classify(err error) ErrorResponse {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return newErrorResponse(http.StatusRequestEntityTooLarge,
			string(ingest.ReasonSizeLimitExceeded),
			fmt.Sprintf("request body exceeds %s", humanize.IBytes(uint64(mbe.Limit))))
	}

	var re *requestError
	if errors.As(err, &re) {
		return newErrorResponse(http.StatusBadRequest, re.reason, re.msg)
	}

	if rej, ok := ingest.IsRejected(err); ok {
		status := http.StatusBadRequest
		if rej.Reason == ingest.ReasonSizeLimitExceeded {
			status = http.StatusRequestEntityTooLarge
		}
		return newErrorResponse(status, string(rej.Reason), rej.Msg)
	}

	if ee, ok := ingest.IsExtraction(err); ok {
		return newErrorResponse(http.StatusInternalServerError, reasonExtraction,
			fmt.Sprintf("failed to extract archive entry %q", ee.Entry))
	}

	return newErrorResponse(http.StatusInternalServerError, reasonInternal, "internal server error")
}

func newErrorResponse(status int, reason, msg string) ErrorResponse {
	return ErrorResponse{
		Status:  status,
		Error:   http.StatusText(status),
		Message: msg,
		Reason:  reason,
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := classify(err)
	if errors.Is(err, context.Canceled) {
		// client went away, nobody reads this
		log.FromContextOr(ctx, api.logger).Debug(ctx, "upload canceled by client")
	}
	api.writeJSON(ctx, w, resp.Status, resp)
}
