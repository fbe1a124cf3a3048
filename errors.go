package bootready

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the monitor. Every error returned by a
// SystemMonitor operation is a *MonitorError that matches exactly one of
// these with errors.Is.
var (
	// ErrResolution is matched when a feature, configuration or service
	// query could not be resolved.
	ErrResolution = errors.New("resolution failed")

	// ErrMutation is matched when the runtime rejected an install,
	// uninstall, start, stop, create or update request.
	ErrMutation = errors.New("runtime rejected mutation")

	// ErrTerminalState is matched when an awaited module entered the
	// Failure state.
	ErrTerminalState = errors.New("module entered terminal failure state")

	// ErrTimeout is matched when the awaited condition did not hold within
	// the allotted time.
	ErrTimeout = errors.New("timed out waiting for readiness")

	// ErrInterrupted is matched when the waiting context was cancelled.
	ErrInterrupted = errors.New("interrupted while waiting")
)

// Validation errors for monitor construction and configuration.
var (
	ErrRuntimeNil             = errors.New("runtime is nil")
	ErrInvalidServiceMode     = errors.New("invalid service query mode")
	ErrNonPositivePoll        = errors.New("poll interval must be positive")
	ErrNegativeWait           = errors.New("wait duration must not be negative")
	ErrUnsupportedConfigFile  = errors.New("unsupported config file extension")
	ErrEventMissingPID        = errors.New("configuration event has no pid")
	ErrUnknownConfigEventType = errors.New("unknown configuration event type")
)

// ErrorKind classifies a MonitorError.
type ErrorKind int

const (
	KindResolution ErrorKind = iota
	KindMutation
	KindTerminalState
	KindTimeout
	KindInterrupted
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindResolution:
		return "resolution"
	case KindMutation:
		return "mutation"
	case KindTerminalState:
		return "terminal-state"
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindResolution:
		return ErrResolution
	case KindMutation:
		return ErrMutation
	case KindTerminalState:
		return ErrTerminalState
	case KindTimeout:
		return ErrTimeout
	case KindInterrupted:
		return ErrInterrupted
	default:
		return nil
	}
}

// MonitorError is the single failure category returned by SystemMonitor.
// Err holds the collaborator cause, if any. Diagnostics is populated for
// module waits that timed out or hit a terminal state.
type MonitorError struct {
	Kind        ErrorKind
	Op          string
	Message     string
	Err         error
	Diagnostics []ModuleDiagnostic
}

func (e *MonitorError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if n := len(e.Diagnostics); n > 0 {
		fmt.Fprintf(&b, " (%d inactive modules)", n)
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *MonitorError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind ErrorKind, op string, cause error, format string, args ...any) *MonitorError {
	return &MonitorError{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// asMonitorError passes MonitorErrors through untouched and wraps anything
// else with the given kind.
func asMonitorError(err error, kind ErrorKind, op, message string) error {
	var me *MonitorError
	if errors.As(err, &me) {
		return err
	}
	return newError(kind, op, err, "%s", message)
}
