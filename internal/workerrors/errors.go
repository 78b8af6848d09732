// Package workerrors defines the worker's flat error taxonomy.
//
// Every variant carries enough context to reconstruct the original's
// "source chain" (see DESIGN.md): Unwrap() always returns the underlying
// cause, if any, so errors.Is/errors.As still see through a *Error to e.g.
// a *os.PathError or *exec.ExitError.
package workerrors

import (
	"errors"
	"fmt"
)

// Kind tags which of the taxonomy's flat variants an Error carries.
type Kind int

const (
	// KindContainerCli reports a non-zero exit from the container CLI.
	KindContainerCli Kind = iota
	KindHTTP
	KindIO
	KindIntegerConversion
	KindJSONEncodeDecode
	KindInvalidSerialization
	KindInvalidUTF8
	KindPosix
	KindOperationTimedOut
	KindPathConversion
	KindPathNotFound
	KindPipeDisconnected
	KindRegex
	KindSubprocessStart
	KindSubprocessTerminated
	KindAsyncJoin
	KindUnsupportedPlatform
	KindWrongMethod
)

func (k Kind) String() string {
	switch k {
	case KindContainerCli:
		return "ContainerCli"
	case KindHTTP:
		return "Http"
	case KindIO:
		return "Io"
	case KindIntegerConversion:
		return "IntegerConversion"
	case KindJSONEncodeDecode:
		return "JsonEncodeDecode"
	case KindInvalidSerialization:
		return "InvalidSerialization"
	case KindInvalidUTF8:
		return "InvalidUtf8"
	case KindPosix:
		return "Posix"
	case KindOperationTimedOut:
		return "OperationTimedOut"
	case KindPathConversion:
		return "PathConversion"
	case KindPathNotFound:
		return "PathNotFound"
	case KindPipeDisconnected:
		return "PipeDisconnected"
	case KindRegex:
		return "Regex"
	case KindSubprocessStart:
		return "SubprocessStart"
	case KindSubprocessTerminated:
		return "SubprocessTerminated"
	case KindAsyncJoin:
		return "AsyncJoin"
	case KindUnsupportedPlatform:
		return "UnsupportedPlatform"
	case KindWrongMethod:
		return "WrongMethod"
	default:
		return "Unknown"
	}
}

// Error is the concrete type behind every taxonomy variant.
type Error struct {
	Kind Kind
	// Msg is variant-specific context: the "what" string for
	// OperationTimedOut/InvalidSerialization, the path for PathNotFound, the
	// reason for UnsupportedPlatform, etc.
	Msg string
	// ExitCode is populated for ContainerCli and SubprocessTerminated.
	ExitCode int
	// Stdout/Stderr are populated for ContainerCli.
	Stdout string
	Stderr string
	// Bytes is populated for InvalidSerialization (the offending payload).
	Bytes []byte
	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindContainerCli:
		return fmt.Sprintf("container cli exited %d: stdout=%q stderr=%q", e.ExitCode, e.Stdout, e.Stderr)
	case KindOperationTimedOut:
		return fmt.Sprintf("operation timed out: %s", e.Msg)
	case KindInvalidSerialization:
		return fmt.Sprintf("invalid serialization: %s (%d bytes)", e.Msg, len(e.Bytes))
	case KindPathNotFound:
		return fmt.Sprintf("path not found: %s", e.Msg)
	case KindSubprocessTerminated:
		return fmt.Sprintf("subprocess terminated: exit %d", e.ExitCode)
	case KindUnsupportedPlatform:
		return fmt.Sprintf("unsupported platform: %s", e.Msg)
	case KindPipeDisconnected:
		return "pipe disconnected"
	case KindWrongMethod:
		return "wrong method"
	default:
		if e.Msg != "" {
			if e.cause != nil {
				return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
			}
			return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
		}
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.cause)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind == kind
	}
	return false
}

func wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

func ContainerCli(exitCode int, stdout, stderr string) *Error {
	return &Error{Kind: KindContainerCli, ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

func HTTP(cause error) *Error { return wrap(KindHTTP, "", cause) }

func IO(cause error) *Error { return wrap(KindIO, "", cause) }

func IntegerConversion(cause error) *Error { return wrap(KindIntegerConversion, "", cause) }

func JSONEncodeDecode(cause error) *Error { return wrap(KindJSONEncodeDecode, "", cause) }

func InvalidSerialization(reason string, payload []byte) *Error {
	return &Error{Kind: KindInvalidSerialization, Msg: reason, Bytes: payload}
}

func InvalidUTF8(cause error) *Error { return wrap(KindInvalidUTF8, "", cause) }

func Posix(cause error) *Error { return wrap(KindPosix, "", cause) }

func OperationTimedOut(what string) *Error {
	return &Error{Kind: KindOperationTimedOut, Msg: what}
}

func PathConversion(cause error) *Error { return wrap(KindPathConversion, "", cause) }

func PathNotFound(path string) *Error {
	return &Error{Kind: KindPathNotFound, Msg: path}
}

func PipeDisconnected() *Error { return &Error{Kind: KindPipeDisconnected} }

func Regex(cause error) *Error { return wrap(KindRegex, "", cause) }

func SubprocessStart(cause error) *Error { return wrap(KindSubprocessStart, "", cause) }

func SubprocessTerminated(exitCode int) *Error {
	return &Error{Kind: KindSubprocessTerminated, ExitCode: exitCode}
}

func AsyncJoin(cause error) *Error { return wrap(KindAsyncJoin, "", cause) }

func UnsupportedPlatform(reason string) *Error {
	return &Error{Kind: KindUnsupportedPlatform, Msg: reason}
}

func WrongMethod() *Error { return &Error{Kind: KindWrongMethod} }
