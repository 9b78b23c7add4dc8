package zffi

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes a bridge error.
type ErrorKind string

const (
	SyntaxError    ErrorKind = "syntax"     // lexer or parser failure
	TypeError      ErrorKind = "type"       // bad conversion, incomplete type, redefinition, unknown name
	LinkError      ErrorKind = "link"       // library load or symbol resolution failure
	CallSetupError ErrorKind = "call setup" // call descriptor or closure preparation failure
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrSyntax    = &Error{Kind: SyntaxError}
	ErrType      = &Error{Kind: TypeError}
	ErrLink      = &Error{Kind: LinkError}
	ErrCallSetup = &Error{Kind: CallSetupError}
)

// Error is the structured error returned by every fallible operation.
type Error struct {
	Cause  error
	Kind   ErrorKind
	Token  string
	Detail string
	Line   int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(string(e.Kind))
	b.WriteString(" error")

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Token != "" {
		b.WriteString(" near '")
		b.WriteString(e.Token)
		b.WriteByte('\'')
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func syntaxError(tok string, line int, format string, args ...any) *Error {
	return &Error{Kind: SyntaxError, Token: tok, Line: line, Detail: fmt.Sprintf(format, args...)}
}

func typeError(format string, args ...any) *Error {
	return &Error{Kind: TypeError, Detail: fmt.Sprintf(format, args...)}
}

func linkError(cause error, format string, args ...any) *Error {
	return &Error{Kind: LinkError, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

func callSetupError(format string, args ...any) *Error {
	return &Error{Kind: CallSetupError, Detail: fmt.Sprintf(format, args...)}
}

// atLine stamps a parse position onto errors raised below the parser
// (layout and evaluator failures) so diagnostics point at the source line.
func atLine(err error, line int) error {
	if e, ok := err.(*Error); ok && e.Line == 0 {
		c := *e
		c.Line = line
		return &c
	}
	return err
}
