package compiler

import (
	"fmt"
	"strings"
)

// Diagnostic is a single compile error tied to a source line.
type Diagnostic struct {
	Line    int
	Column  int    // start of the offending token within its line
	Where   string // " at 'x'", " at end", or empty for lexical errors
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.Where, d.Message)
}

// CompileError collects every diagnostic reported while compiling a source.
// Compilation fails as a whole if any diagnostic was reported.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}
