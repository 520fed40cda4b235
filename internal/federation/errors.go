package federation

import "errors"

// Kind classifies a federation-core error so the HTTP boundary can map it to
// the right status code without re-deriving the reason from error text.
type Kind int

const (
	// KindInternal covers DB/serialisation/unknown failures.
	KindInternal Kind = iota
	KindUnauthorized
	KindValidation
	KindForbidden
	KindRateLimited
	KindNotFound
	KindFederation
)

// Error is a typed federation-core error carrying its HTTP-surfacing kind.
// Handlers never need to string-match; they call errors.As and read Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func Unauthorized(msg string, cause error) *Error { return newErr(KindUnauthorized, msg, cause) }
func Validation(msg string, cause error) *Error   { return newErr(KindValidation, msg, cause) }
func Forbidden(msg string, cause error) *Error    { return newErr(KindForbidden, msg, cause) }
func RateLimited(msg string) *Error               { return newErr(KindRateLimited, msg, nil) }
func NotFound(msg string) *Error                  { return newErr(KindNotFound, msg, nil) }
func Federation(msg string, cause error) *Error   { return newErr(KindFederation, msg, cause) }
func Internal(msg string, cause error) *Error     { return newErr(KindInternal, msg, cause) }

// ErrGone is returned when a remote resource responds with HTTP 410 Gone.
var ErrGone = errors.New("resource gone (410)")

// ErrActorGone is returned when the signing actor's own profile is 410,
// meaning its key can no longer be fetched to verify a signature.
var ErrActorGone = errors.New("signing actor is gone (410)")

// AsKind extracts the Kind from err, defaulting to KindInternal for errors
// that were never classified (a bug surface, but never a panic).
func AsKind(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
