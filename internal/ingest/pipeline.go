package ingest

import (
	"context"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/archive-ingest/internal/cryptoutil"
	"github.com/keithlinneman/archive-ingest/internal/log"
	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// Stage is a state of the linear ingestion state machine.
type Stage string

const (
	StageReceived         Stage = "received"
	StageExtensionChecked Stage = "extension_checked"
	StagePersisted        Stage = "persisted_to_scratch"
	StageSizeChecked      Stage = "size_checked"
	StageIntegrityChecked Stage = "integrity_checked"
	StageExtracted        Stage = "extracted"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// Outcome labels a finished ingestion.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Upload is the client supplied file, consumed exactly once.
type Upload struct {
	Filename string
	Content  io.Reader

	// ExpectedSHA256 is an optional hex digest the client claims for
	// Content. A mismatch rejects the upload before it is opened.
	ExpectedSHA256 string
}

// Result describes a successful ingestion.
type Result struct {
	ID                string   `json:"id"`
	Filename          string   `json:"filename"`
	SHA256            string   `json:"sha256"`
	Size              int64    `json:"size"`
	ContentType       string   `json:"content_type"`
	Entries           []Entry  `json:"entries"`
	UncompressedTotal int64    `json:"uncompressed_total"`
	Files             []string `json:"files"`
	TopLevel          []string `json:"top_level"`
}

// Observer receives per-stage timings and the final outcome. Implemented by
// the metrics package.
type Observer interface {
	ObserveIngestStage(stage string, seconds float64)
	ObserveIngest(outcome, reason string, seconds float64, uncompressedBytes int64)
}

type nopObserver struct{}

func (nopObserver) ObserveIngestStage(string, float64)            {}
func (nopObserver) ObserveIngest(string, string, float64, int64) {}

// Handoff receives the extracted tree while it still exists. dir is removed
// as soon as Handoff returns.
type Handoff func(ctx context.Context, dir string, res *Result) error

type Options struct {
	// Fs backs the working directory, defaults to the OS filesystem
	Fs afero.Fs

	// ScratchDir is the parent of per-request working directories, "" = OS temp dir
	ScratchDir string

	Limits   Limits
	Logger   log.Logger
	Observer Observer
	Handoff  Handoff
}

// Pipeline validates and extracts uploaded archives. It holds no mutable
// state and is safe for concurrent use.
type Pipeline struct {
	fs         afero.Fs
	scratchDir string
	limits     Limits
	logger     log.Logger
	observer   Observer
	handoff    Handoff
	tracer     trace.Tracer
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Pipeline{
		fs:         opts.Fs,
		scratchDir: opts.ScratchDir,
		limits:     opts.Limits,
		logger:     opts.Logger,
		observer:   opts.Observer,
		handoff:    opts.Handoff,
		tracer:     otel.Tracer("archive-ingest/ingest"),
	}
}

func (p *Pipeline) Limits() Limits { return p.limits }

// CheckScratch verifies a working directory can be created and removed
// below the scratch dir. Used as a readiness check.
func (p *Pipeline) CheckScratch(ctx context.Context) error {
	return WithWorkDir(ctx, p.fs, p.scratchDir, func(context.Context, *WorkDir) error {
		return nil
	})
}

// Ingest runs the upload through every stage in order:
// extension check, persist to scratch, size check, integrity check,
// extraction. The first failing stage aborts the run; the working directory
// is removed on every exit path.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (_ *Result, err error) {
	start := time.Now()
	res := &Result{ID: uuid.NewString(), Filename: up.Filename}
	stage := StageReceived

	L := log.FromContextOr(ctx, p.logger).With("ingest_id", res.ID)
	ctx, span := p.tracer.Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("ingest.id", res.ID),
			attribute.String("ingest.extension", strings.ToLower(strings.TrimPrefix(path.Ext(up.Filename), "."))),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			p.finish(ctx, L, span, res, stage, xerrors.Newf("panic during ingestion: %v", r), time.Since(start))
			panic(r)
		}
		p.finish(ctx, L, span, res, stage, err, time.Since(start))
	}()

	// run executes one stage and advances the state machine when it passes
	run := func(next Stage, fn func(context.Context) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sctx, sspan := p.tracer.Start(ctx, "ingest."+string(next))
		t := time.Now()
		err := fn(sctx)
		if err != nil {
			sspan.RecordError(err)
			sspan.SetStatus(codes.Error, err.Error())
			sspan.End()
			return err
		}
		sspan.End()
		stage = next
		p.observer.ObserveIngestStage(string(next), time.Since(t).Seconds())
		L.Debug(ctx, "ingest stage complete", "stage", string(next), "duration", time.Since(t).Seconds())
		return nil
	}

	if up.Content == nil {
		return nil, RejectMissingFile()
	}
	if up.Filename == "" {
		return nil, RejectEmptyFilename()
	}

	if err := run(StageExtensionChecked, func(context.Context) error {
		return ValidateExtension(up.Filename, p.limits)
	}); err != nil {
		return nil, err
	}

	err = WithWorkDir(ctx, p.fs, p.scratchDir, func(ctx context.Context, wd *WorkDir) error {
		scratch := wd.Scratch()

		if err := run(StagePersisted, func(context.Context) error {
			n, sum, err := persistUpload(p.fs, up.Content, scratch, p.limits.MaxUploadBytes())
			if err != nil {
				return err
			}
			res.Size, res.SHA256 = n, sum
			if err := checkDigest(up.ExpectedSHA256, sum); err != nil {
				return err
			}
			res.ContentType, err = sniffArchive(p.fs, scratch)
			return err
		}); err != nil {
			return err
		}

		if err := run(StageSizeChecked, func(sctx context.Context) error {
			entries, err := Inspect(p.fs, scratch, p.limits)
			if err != nil {
				return err
			}
			res.Entries = entries
			res.UncompressedTotal = UncompressedTotal(entries)
			logEntries(sctx, L, up.Filename, entries)
			return nil
		}); err != nil {
			return err
		}

		if err := run(StageIntegrityChecked, func(sctx context.Context) error {
			return Verify(sctx, p.fs, scratch)
		}); err != nil {
			return err
		}

		if err := run(StageExtracted, func(sctx context.Context) error {
			files, err := Extract(sctx, p.fs, scratch, wd.ExtractRoot())
			if err != nil {
				return err
			}
			top, err := TopLevel(p.fs, wd.ExtractRoot())
			if err != nil {
				return err
			}
			res.Files, res.TopLevel = files, top
			return nil
		}); err != nil {
			return err
		}

		if p.handoff != nil {
			if err := p.handoff(ctx, wd.ExtractRoot(), res); err != nil {
				return xerrors.Wrap(err, "handoff extracted archive")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stage = StageDone
	return res, nil
}

func (p *Pipeline) finish(ctx context.Context, L log.Logger, span trace.Span, res *Result, stage Stage, err error, took time.Duration) {
	defer span.End()

	if err == nil {
		span.SetAttributes(
			attribute.Int("ingest.entries", len(res.Entries)),
			attribute.Int64("ingest.uncompressed_bytes", res.UncompressedTotal),
		)
		p.observer.ObserveIngest(OutcomeAccepted, "", took.Seconds(), res.UncompressedTotal)
		L.Info(ctx, "archive ingested",
			"stage", string(stage),
			"sha256", res.SHA256,
			"size", res.Size,
			"entries", len(res.Entries),
			"uncompressed_total", res.UncompressedTotal,
			"duration", took.Seconds(),
		)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	kv := []any{
		"stage", string(StageFailed),
		"failed_after", string(stage),
		"duration", took.Seconds(),
	}

	if re, ok := IsRejected(err); ok {
		span.SetAttributes(attribute.String("ingest.reject_reason", string(re.Reason)))
		p.observer.ObserveIngest(OutcomeRejected, string(re.Reason), took.Seconds(), res.UncompressedTotal)
		kv = append(kv, "reason", string(re.Reason), "error", re.Error())
		if re.Entry != "" {
			kv = append(kv, "entry", re.Entry)
		}
		L.Warn(ctx, "archive rejected", kv...)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.observer.ObserveIngest(OutcomeCanceled, "", took.Seconds(), res.UncompressedTotal)
		L.Warn(ctx, "archive ingestion canceled", append(kv, "error", err.Error())...)
		return
	}

	reason := "internal"
	if _, ok := IsExtraction(err); ok {
		reason = "extraction"
	}
	p.observer.ObserveIngest(OutcomeFailed, reason, took.Seconds(), res.UncompressedTotal)
	L.Error(ctx, err, "archive ingestion failed", kv...)
}

// logEntries dumps the central directory at debug level
func logEntries(ctx context.Context, L log.Logger, filename string, entries []Entry) {
	if len(entries) == 0 {
		L.Debug(ctx, "uploaded zip archive is empty", "filename", filename)
		return
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "name="+e.Name+
			", compress_size="+strconv.FormatInt(e.CompressedSize, 10)+
			", file_size="+strconv.FormatInt(e.UncompressedSize, 10))
	}
	L.Debug(ctx, "content of uploaded zip archive",
		"filename", filename,
		"entries", lines,
	)
}

// checkDigest compares the client's claimed SHA-256, if any, with the digest
// of what was actually received.
func checkDigest(claimed, actual string) error {
	if strings.TrimSpace(claimed) == "" {
		return nil
	}
	want, ok := cryptoutil.NormalizeSHA256Hex(claimed)
	if !ok {
		return reject(ReasonChecksumMismatch, "expected sha256 %q is not a hex encoded digest", claimed)
	}
	if !cryptoutil.HashEqual(want, actual) {
		return reject(ReasonChecksumMismatch, "uploaded file sha256 %s does not match expected %s", actual, want)
	}
	return nil
}
