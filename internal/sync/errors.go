package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/lmsync/lmsync/internal/lms"
)

var (
	ErrSessionState   = errors.New("sync: invalid session state")
	ErrNotConfirmed   = errors.New("sync: action set not confirmed")
	ErrFolderAborted  = errors.New("sync: folder aborted after local i/o failure")
	ErrManifestClosed = errors.New("sync: manifest not open")
)

// ErrorKind partitions failures by how the engine reacts to them.
type ErrorKind string

const (
	// KindTransient covers rate limits, 5xx and connection resets; retried
	// with backoff up to the attempt ceiling.
	KindTransient ErrorKind = "transient"
	// KindAccessDenied is an authorization failure; reported, never retried.
	KindAccessDenied ErrorKind = "access_denied"
	// KindResourceGone means the remote object vanished; reported, never
	// retried.
	KindResourceGone ErrorKind = "resource_gone"
	// KindLocalIO is a local disk failure; aborts the folder's remaining
	// actions.
	KindLocalIO ErrorKind = "local_io"
	// KindAmbiguity is a non-fatal identity resolution warning.
	KindAmbiguity ErrorKind = "ambiguity"
	// KindUnknown is anything the engine could not classify; not retried.
	KindUnknown ErrorKind = "unknown"
)

// Classify maps an arbitrary error onto the engine's taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKind("")
	}

	var srcErr *lms.SourceError
	if errors.As(err, &srcErr) {
		switch srcErr.Code {
		case lms.CodeRateLimited, lms.CodeServerError, lms.CodeNetworkError:
			return KindTransient
		case lms.CodeAccessDenied:
			return KindAccessDenied
		case lms.CodeResourceGone:
			return KindResourceGone
		}
		return KindUnknown
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindLocalIO
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	return KindUnknown
}

// Retryable reports whether a failure should re-enter the backoff loop.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

// Failure is one entry of the structured failure list handed to the caller.
// The engine never formats a human-readable report itself.
type Failure struct {
	Ref         lms.ItemRef `json:"ref"`
	DisplayName string      `json:"display_name"`
	Kind        ErrorKind   `json:"kind"`
	Attempts    int         `json:"attempts"`
	Err         error       `json:"-"`
	Message     string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%s): %s after %d attempt(s)", f.DisplayName, f.Ref, f.Kind, f.Attempts)
}
