package quickzone

import (
	"fmt"
	"log"
)

// ErrorKind classifies a QzError so hosts can branch on the failure
// category without string-matching the message.
type ErrorKind uint8

const (
	// ErrInvalidArgument covers unknown shapes, non-finite vectors,
	// negative precision, and negative update rates (a zero rate selects
	// the default rate).
	ErrInvalidArgument ErrorKind = iota
	// ErrLifecycle covers operations against a destroyed zone or a
	// removed entity.
	ErrLifecycle
	// ErrCallbackFailure names the user-callback-failure category.
	// Callback panics are recovered and logged through the Logger at the
	// dispatcher boundary; no operation returns an error of this kind.
	ErrCallbackFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrLifecycle:
		return "lifecycle"
	case ErrCallbackFailure:
		return "callback-failure"
	default:
		return "unknown"
	}
}

// QzError is the typed error family every public QuickZone operation
// returns instead of a bare fmt.Errorf, so hosts can errors.As against
// a specific Kind.
type QzError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *QzError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quickzone: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("quickzone: %s: %s", e.Op, e.Kind)
}

func (e *QzError) Unwrap() error {
	return e.Err
}

func newErr(kind ErrorKind, op string, err error) *QzError {
	return &QzError{Kind: kind, Op: op, Err: err}
}

func invalidArg(op string, err error) *QzError {
	return newErr(ErrInvalidArgument, op, err)
}

func lifecycleErr(op string, err error) *QzError {
	return newErr(ErrLifecycle, op, err)
}

// Logger is the minimal sink QuickZone reports callback failures and
// rebuild diagnostics through.
type Logger interface {
	Printf(format string, args ...any)
}

// defaultLogger wraps the stdlib's global logger, matching the
// teacher's use of package-level log.Printf/log.Println throughout.
type defaultLogger struct{}

func (defaultLogger) Printf(format string, args ...any) {
	log.Printf(format, args...)
}
