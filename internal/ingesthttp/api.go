package ingesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/archive-ingest/internal/httpmw"
	"github.com/keithlinneman/archive-ingest/internal/ingest"
	"github.com/keithlinneman/archive-ingest/internal/log"
	"github.com/keithlinneman/archive-ingest/internal/pathutil"
	"github.com/keithlinneman/archive-ingest/internal/version"
)

const (
	// fileField is the multipart field carrying the archive
	fileField = "file"

	// checksumHeader optionally carries the client's hex SHA-256 of the archive
	checksumHeader = "X-Checksum-Sha256"

	// multipartSlack covers boundaries and part headers on top of the file itself
	multipartSlack int64 = 1 << 20
)

// Ingester runs an upload through the ingestion pipeline
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
	Limits() ingest.Limits
}

// API implements the upload endpoints
type API struct {
	ingester Ingester
	logger   log.Logger
	build    version.Info
}

// NewAPI creates the upload API handler
func NewAPI(ingester Ingester, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		ingester: ingester,
		logger:   logger,
		build:    version.Get(),
	}
}

// RegisterRoutes attaches the upload, about and ping endpoints under /v1 and
// /v2, and answers unmatched requests with JSON errors
func (api *API) RegisterRoutes(r chi.Router) {
	bodyLimit := api.ingester.Limits().MaxUploadBytes() + multipartSlack
	upload := r.With(
		httpmw.MaxBody(bodyLimit, api.handleTooLarge(bodyLimit)),
		httpmw.Scope("upload_zipfile"),
	)

	for _, prefix := range []string{"/v1", "/v2"} {
		r.Get(prefix+"/health/ping", api.HandlePing)
		r.Get(prefix+"/about", api.HandleAbout)
		upload.Post(prefix+"/{organization}/{repo}/zipfile", api.HandleUpload)
		upload.Post(prefix+"/{organization}/{repo}/zipfile/{version}", api.HandleUpload)
	}

	r.NotFound(api.handleStatus(http.StatusNotFound, "the requested URL was not found on the server"))
	r.MethodNotAllowed(api.handleStatus(http.StatusMethodNotAllowed, "the method is not allowed for the requested URL"))
}

// HandleUpload validates and extracts one zip archive
func (api *API) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var params [3]string
	for i, name := range [...]string{"organization", "repo", "version"} {
		raw := chi.URLParam(r, name)
		if name == "version" && raw == "" {
			continue
		}
		v, err := url.PathUnescape(raw)
		if err != nil || !validParam(v) {
			log.FromContextOr(ctx, api.logger).Warn(ctx, "upload rejected: invalid path parameter",
				"param", name,
				"value", raw,
			)
			api.writeError(ctx, w, badParameter(name, raw))
			return
		}
		params[i] = v
	}
	org, repo, ver := params[0], params[1], params[2]

	L := log.FromContextOr(ctx, api.logger).With("organization", org, "repo", repo)
	if ver != "" {
		L = L.With("version", ver)
	}
	ctx = log.WithContext(ctx, L)

	up, err := fileUpload(r)
	if err != nil {
		L.Warn(ctx, "upload rejected: unreadable multipart body", "error", err.Error())
		api.writeError(ctx, w, err)
		return
	}
	up.ExpectedSHA256 = r.Header.Get(checksumHeader)

	res, err := api.ingester.Ingest(ctx, up)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, UploadResponse{
		Organization:   org,
		Repo:           repo,
		Version:        ver,
		ID:             res.ID,
		SHA256:         res.SHA256,
		ExtractedFiles: res.TopLevel,
	})
}

// HandleAbout serves build information and the enforced limits
func (api *API) HandleAbout(w http.ResponseWriter, r *http.Request) {
	lim := api.ingester.Limits()
	api.writeJSON(r.Context(), w, http.StatusOK, AboutResponse{
		Version:              api.build.Version,
		Commit:               api.build.Commit,
		BuildDate:            api.build.BuildDate,
		GoVersion:            api.build.GoVersion,
		MaxUncompressedBytes: lim.MaxUncompressedBytes(),
		MaxUploadBytes:       lim.MaxUploadBytes(),
		MaxEntries:           lim.MaxEntries(),
		AllowedExtensions:    lim.Extensions(),
	})
}

func (api *API) HandlePing(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, PingResponse{OK: true})
}

// handleTooLarge answers uploads whose declared length is already over the cap
func (api *API) handleTooLarge(limit int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log.FromContextOr(ctx, api.logger).Warn(ctx, "upload rejected: declared body too large",
			"http.request.body.size", r.ContentLength,
			"limit", limit,
		)
		api.writeError(ctx, w, &http.MaxBytesError{Limit: limit})
	}
}

func (api *API) handleStatus(status int, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.writeJSON(r.Context(), w, status, ErrorResponse{
			Status:  status,
			Error:   http.StatusText(status),
			Message: msg,
		})
	}
}

// fileUpload streams the multipart body up to the first "file" part. Other
// parts are skipped. A body without a file part yields an Upload with no
// Content so the pipeline rejects it as a missing file.
func fileUpload(r *http.Request) (ingest.Upload, error) {
	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return ingest.Upload{}, nil
	}
	if err != nil {
		return ingest.Upload{}, &requestError{reason: reasonInvalidRequest, msg: "malformed multipart body"}
	}

	for {
		part, err := mr.NextPart()
		// a bare io.EOF is a clean end, truncated bodies come back wrapped
		if err == io.EOF {
			return ingest.Upload{}, nil
		}
		if err != nil {
			return ingest.Upload{}, multipartError(err)
		}
		if part.FormName() != fileField {
			continue
		}
		return ingest.Upload{Filename: part.FileName(), Content: part}, nil
	}
}

func multipartError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return &requestError{reason: reasonInvalidRequest, msg: "malformed multipart body"}
}

// validParam accepts a single non-empty path segment with no dot segments
// or control characters
func validParam(s string) bool {
	if s == "" || pathutil.HasDotSegments(s) || strings.ContainsAny(s, `/\`) {
		return false
	}
	for _, c := range s {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
