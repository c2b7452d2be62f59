package intent

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a stage did not produce a clean answer.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindDecline means the stage could not answer; try the next one.
	KindDecline
	// KindMalformed means the input shape was not recognised. The
	// reply carries a clarification.
	KindMalformed
	// KindUnavailable means a collaborator (network, credential,
	// device) failed. The reply carries an apology.
	KindUnavailable
	// KindBusy means a task of the same kind is already running.
	KindBusy
	// KindInternal means a handler failed unexpectedly and was
	// contained by the dispatcher.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDecline:
		return "decline"
	case KindMalformed:
		return "malformed"
	case KindUnavailable:
		return "unavailable"
	case KindBusy:
		return "busy"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name for JSON responses.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Sentinel errors matching each [ErrorKind]. Collaborators wrap them so
// callers can classify failures with errors.Is.
var (
	ErrDecline     = errors.New("declined")
	ErrMalformed   = errors.New("malformed input")
	ErrUnavailable = errors.New("collaborator unavailable")
	ErrBusy        = errors.New("busy")
)

// UnavailableError records which collaborator failed.
type UnavailableError struct {
	Collaborator string
	Err          error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes every *UnavailableError match [ErrUnavailable].
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// KindOf maps an error onto the taxonomy. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrDecline):
		return KindDecline
	default:
		return KindInternal
	}
}

// Result is the outcome of one handler or fallback stage.
type Result struct {
	Reply   string    `json:"reply"`
	Handled bool      `json:"handled"`
	Err     ErrorKind `json:"error_kind"`
	// Terminate asks the front end to end the session after
	// delivering Reply.
	Terminate bool `json:"terminate,omitempty"`
	// URL is set when the turn asked to open a site.
	URL string `json:"url,omitempty"`
	// Source names the handler or stage that produced the result.
	Source string `json:"source,omitempty"`
}

// Reply returns a handled result.
func Reply(text string) Result {
	return Result{Reply: text, Handled: true}
}

// Decline returns an unhandled result with no reply: the next stage
// should try.
func Decline() Result {
	return Result{Err: KindDecline}
}

// Malformed returns an unhandled result carrying a clarification.
func Malformed(clarification string) Result {
	return Result{Reply: clarification, Err: KindMalformed}
}

// Unavailable returns an unhandled result carrying an apology.
func Unavailable(apology string) Result {
	return Result{Reply: apology, Err: KindUnavailable}
}

// Declined reports whether the next stage should be tried.
func (r Result) Declined() bool {
	return !r.Handled && !r.Terminate
}
