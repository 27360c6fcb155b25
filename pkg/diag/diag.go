// Package diag collects assembler diagnostics -- errors, warnings, and
// informational notes tied to a source location -- into a single ordered
// log, rendered the way a compiler front-end typically does:
// "<file>:<line>:<col>: <severity>: <message>".
package diag

import (
	"fmt"
	"strings"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Location names a position in an assembler source file, including the
// include-chain file name so diagnostics from nested %include files are
// unambiguous.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Message is one diagnostic entry.
type Message struct {
	Severity Severity
	Location Location
	Text     string
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s: %s", m.Location, m.Severity, m.Text)
}

// Messages is an ordered, append-only diagnostic log, shared across the
// assembler's collect and encode passes so every error/warning surfaces
// together at the end of a run instead of aborting on the first one.
type Messages struct {
	entries []Message
}

// Add appends one diagnostic.
func (m *Messages) Add(sev Severity, loc Location, format string, args ...interface{}) {
	m.entries = append(m.entries, Message{Severity: sev, Location: loc, Text: fmt.Sprintf(format, args...)})
}

// Error is shorthand for Add(SeverityError, ...).
func (m *Messages) Error(loc Location, format string, args ...interface{}) {
	m.Add(SeverityError, loc, format, args...)
}

// Warning is shorthand for Add(SeverityWarning, ...).
func (m *Messages) Warning(loc Location, format string, args ...interface{}) {
	m.Add(SeverityWarning, loc, format, args...)
}

// Info is shorthand for Add(SeverityInfo, ...).
func (m *Messages) Info(loc Location, format string, args ...interface{}) {
	m.Add(SeverityInfo, loc, format, args...)
}

// HasErrors reports whether any SeverityError diagnostic was recorded.
func (m *Messages) HasErrors() bool {
	for _, e := range m.entries {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// All returns every recorded diagnostic in insertion order.
func (m *Messages) All() []Message { return m.entries }

// String renders every message, one per line.
func (m *Messages) String() string {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
