package eval

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryOpen is returned when a script is run before the opcode
	// registry has been sealed.
	ErrRegistryOpen = errors.New("eval: opcode registry is not sealed")

	// ErrAlreadyStarted is returned when an Invocation is run twice.
	ErrAlreadyStarted = errors.New("eval: invocation already started")
)

// ScriptError is a deliberate, user-visible rejection raised by an opcode or
// capability implementation. It never indicates a host defect.
type ScriptError struct {
	Msg   string
	Cause error
}

func (e *ScriptError) Error() string { return e.Msg }

func (e *ScriptError) Unwrap() error { return e.Cause }

// Errorf builds a ScriptError with a formatted message.
func Errorf(format string, args ...any) *ScriptError {
	return &ScriptError{Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a ScriptError that carries cause for logging while exposing
// only msg to the script.
func Wrap(cause error, msg string) *ScriptError {
	return &ScriptError{Msg: msg, Cause: cause}
}

// UnboundVariableError reports a var or set of a name bound in no frame.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return "unbound variable: " + e.Name
}

// UnknownOpcodeError reports a call to an opcode missing from the registry.
type UnknownOpcodeError struct {
	Name string
}

func (e *UnknownOpcodeError) Error() string {
	return "unknown opcode: " + e.Name
}

// ArityError reports an opcode or form called with the wrong argument count.
type ArityError struct {
	Opcode string
	Got    int
	Min    int
	Max    int // -1 when variadic
}

func (e *ArityError) Error() string {
	var want string
	switch {
	case e.Max < 0:
		want = fmt.Sprintf("at least %d", e.Min)
	case e.Min == e.Max:
		want = fmt.Sprintf("%d", e.Min)
	default:
		want = fmt.Sprintf("%d to %d", e.Min, e.Max)
	}
	return fmt.Sprintf("%s expects %s arguments but got %d", e.Opcode, want, e.Got)
}

// CancelledError reports an invocation stopped by its context.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return "invocation cancelled: " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// InternalError is the opaque face of a host fault. The detail is only in the
// server log, under Incident.
type InternalError struct {
	Incident string
}

func (e *InternalError) Error() string {
	return "internal error (incident " + e.Incident + ")"
}

// IsScriptFault reports whether err is a fault the script author should see
// verbatim: a ScriptError, a structural tree fault or a cancellation.
func IsScriptFault(err error) bool {
	var (
		se *ScriptError
		ue *UnboundVariableError
		oe *UnknownOpcodeError
		ae *ArityError
		ce *CancelledError
	)
	return errors.As(err, &se) || errors.As(err, &ue) || errors.As(err, &oe) ||
		errors.As(err, &ae) || errors.As(err, &ce)
}

// classified reports whether err already went through fault classification.
func classified(err error) bool {
	var ie *InternalError
	var rs *returnSignal
	return IsScriptFault(err) || errors.As(err, &ie) || errors.As(err, &rs)
}

// returnSignal unwinds evaluation to the nearest closure or to Run.
type returnSignal struct {
	value any
}

func (r *returnSignal) Error() string { return "return outside of function" }
