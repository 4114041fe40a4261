// Package apperr defines the error taxonomy shared by the retrieval pipeline.
//
// Every failure is reported as a sentinel (matched with errors.Is) wrapped in
// an *Error that records the pipeline stage and the offending input, so a
// failure can be diagnosed from the message alone.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Corpus stage.
var (
	ErrEmptyCorpus    = errors.New("empty corpus")
	ErrMalformedInput = errors.New("malformed input")
)

// Embedding stage.
var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrEncoding         = errors.New("encoding failed")
)

// Index build and query.
var (
	ErrEmptyIndex        = errors.New("empty index")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Artifact consistency.
var (
	ErrOrdinalNotFound  = errors.New("ordinal not found")
	ErrArtifactMismatch = errors.New("artifact mismatch")
	ErrCorruptArtifact  = errors.New("corrupt artifact")
	ErrNoArtifact       = errors.New("no artifact")
)

// Query time.
var (
	ErrIndexNotLoaded = errors.New("index not loaded")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrEngineFailed   = errors.New("engine failed")
	ErrNotFound       = errors.New("not found")
)

// Stage names the pipeline step an error originated in.
type Stage string

const (
	StageCorpus   Stage = "corpus"
	StageEmbed    Stage = "embed"
	StageIndex    Stage = "index"
	StageMetadata Stage = "metadata"
	StageArtifact Stage = "artifact"
	StageQuery    Stage = "query"
	StageCatalog  Stage = "catalog"
)

// Error is a classified failure carrying its stage and subject (a file name,
// doc id, ordinal or path).
type Error struct {
	Kind    error
	Stage   Stage
	Subject string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Subject != "" {
		b.WriteString(": ")
		b.WriteString(e.Subject)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind.
func New(kind error, stage Stage, subject string) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: subject}
}

// Newf is New with a formatted subject.
func Newf(kind error, stage Stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind caused by err.
func Wrap(kind error, stage Stage, subject string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: subject, Err: err}
}

// StageOf returns the stage recorded on err, or "" if err carries none.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsFatal reports whether err signals a broken invariant between the loaded
// artifacts and the running configuration. An engine that sees one must stop
// serving until it is reloaded.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOrdinalNotFound) || errors.Is(err, ErrDimensionMismatch)
}

// HTTPStatusCode maps err to the status the HTTP adapter reports.
func HTTPStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyCorpus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrIndexNotLoaded), errors.Is(err, ErrNoArtifact), errors.Is(err, ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps err to a process exit status for the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidQuery):
		return 2
	case errors.Is(err, ErrEmptyCorpus), errors.Is(err, ErrMalformedInput):
		return 3
	case errors.Is(err, ErrIndexNotLoaded), errors.Is(err, ErrNoArtifact):
		return 4
	default:
		return 1
	}
}
