package runner

import (
	"errors"
	"fmt"
)

// VerdictErrorKind classifies a verdict that was not a clean Pass or Fail.
type VerdictErrorKind string

const (
	KindTimedOut           VerdictErrorKind = "TimedOut"
	KindRejectForeign      VerdictErrorKind = "RejectForeign"
	KindUnexpectedResponse VerdictErrorKind = "UnexpectedResponse"
)

// VerdictError reports a timeout or a protocol violation while awaiting
// the verdict.
type VerdictError struct {
	Kind   VerdictErrorKind
	Detail string
}

var (
	ErrTimedOut           = &VerdictError{Kind: KindTimedOut}
	ErrRejectForeign      = &VerdictError{Kind: KindRejectForeign}
	ErrUnexpectedResponse = &VerdictError{Kind: KindUnexpectedResponse}
)

func (e *VerdictError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches any VerdictError of the same kind.
func (e *VerdictError) Is(target error) bool {
	var t *VerdictError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func verdictErr(kind VerdictErrorKind, format string, args ...any) *VerdictError {
	return &VerdictError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
