package relay

import (
	"errors"
	"fmt"
)

// Kind classifies how a request ended.
type Kind int

const (
	KindNone Kind = iota
	KindMalformed
	KindRejected
	KindDispatchFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformed:
		return "malformed"
	case KindRejected:
		return "rejected"
	case KindDispatchFailed:
		return "dispatch_failed"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by Pipeline.Process when a request could not be
// processed at all. Kind is KindMalformed or KindInternal.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindInternal for any other
// non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
