package diag

import (
	"fmt"
	"strings"

	"weave/internal/token"
)

// Severity of a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is the structured, serialisable form of an error or notice, so
// consumers never have to parse message text.
type Diagnostic struct {
	Severity Severity    `json:"severity"`
	Kind     Kind        `json:"kind,omitempty"`
	Message  string      `json:"message"`
	Span     *token.Span `json:"span,omitempty"`
	Phase    Phase       `json:"phase,omitempty"`
	Stage    string      `json:"stage,omitempty"`
	Function string      `json:"function,omitempty"`
}

// FromError converts any error into a Diagnostic.
func FromError(err error) Diagnostic {
	e := Ensure(err)
	return Diagnostic{
		Severity: SeverityError,
		Kind:     e.Kind,
		Message:  e.Message,
		Span:     e.Span,
		Phase:    e.Phase,
		Stage:    e.Stage,
		Function: e.Function,
	}
}

// Warning builds a non-fatal diagnostic.
func Warning(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	if d.Kind != "" {
		fmt.Fprintf(&b, " %s", d.Kind)
	}
	if d.Span != nil {
		fmt.Fprintf(&b, " at %d:%d", d.Span.Line, d.Span.Col)
	}
	if d.Phase != "" {
		fmt.Fprintf(&b, " [%s]", d.Phase)
	}
	if d.Stage != "" {
		fmt.Fprintf(&b, " [%s]", d.Stage)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Render formats err with a caret snippet of src when it carries a span.
// Errors without a span render as their message.
func Render(err error, name, src string) string {
	e := Ensure(err)
	if e == nil {
		return ""
	}
	if e.Span == nil {
		return e.Error()
	}
	lines := strings.Split(src, "\n")
	line, col := e.Span.Line, e.Span.Col
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	if col < 1 {
		col = 1
	}

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s in %s at %d:%d: %s\n\n", e.Kind, name, line, col, e.Message)
	} else {
		fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", e.Kind, line, col, e.Message)
	}
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lines[line-1])
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", col-1))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	if e.Phase != "" || e.Stage != "" {
		fmt.Fprintf(&b, "\nphase=%s stage=%s\n", e.Phase, e.Stage)
	}
	return b.String()
}
