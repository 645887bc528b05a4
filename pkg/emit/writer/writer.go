// Package writer is an indentation-aware text builder for emitters.
package writer

import (
	"fmt"
	"strings"
)

// Writer accumulates generated source with consistent indentation.
type Writer struct {
	sb            strings.Builder
	indentLevel   int
	indentString  string
	linePrefix    string
	needsIndent   bool
	commentPrefix string
}

// New returns a writer indenting with indent and writing line comments
// with commentPrefix ("//", "#", ...).
func New(indent, commentPrefix string) *Writer {
	return &Writer{
		indentString:  indent,
		commentPrefix: commentPrefix,
		needsIndent:   true,
	}
}

// Indent increases the indentation level.
func (w *Writer) Indent() {
	w.indentLevel++
	w.linePrefix = strings.Repeat(w.indentString, w.indentLevel)
}

// Dedent decreases the indentation level.
func (w *Writer) Dedent() {
	if w.indentLevel > 0 {
		w.indentLevel--
		w.linePrefix = strings.Repeat(w.indentString, w.indentLevel)
	}
}

// Write writes s without a newline.
func (w *Writer) Write(s string) {
	if w.needsIndent && s != "" {
		w.sb.WriteString(w.linePrefix)
		w.needsIndent = false
	}
	w.sb.WriteString(s)
}

// Writef writes a formatted string without a newline.
func (w *Writer) Writef(format string, args ...any) {
	w.Write(fmt.Sprintf(format, args...))
}

// Line writes s followed by a newline.
func (w *Writer) Line(s string) {
	w.Write(s)
	w.Newline()
}

// Linef writes a formatted line.
func (w *Writer) Linef(format string, args ...any) {
	w.Writef(format, args...)
	w.Newline()
}

// Newline ends the current line.
func (w *Writer) Newline() {
	w.sb.WriteString("\n")
	w.needsIndent = true
}

// BlankLine writes an empty line unless the output already ends with one
// or is empty.
func (w *Writer) BlankLine() {
	s := w.sb.String()
	if s != "" && !strings.HasSuffix(s, "\n\n") {
		if !strings.HasSuffix(s, "\n") {
			w.Newline()
		}
		w.Newline()
	}
}

// Block writes opener, the indented content and closer.
func (w *Writer) Block(opener, closer string, content func()) {
	w.Line(opener)
	w.Indent()
	content()
	w.Dedent()
	w.Line(closer)
}

// Comment writes one line comment per line of text.
func (w *Writer) Comment(text string) {
	for _, line := range splitLines(text) {
		if line == "" {
			w.Line(w.commentPrefix)
			continue
		}
		w.Linef("%s %s", w.commentPrefix, line)
	}
}

// DocBlock writes text as a block comment: open and close delimit the
// block and every line is written with the middle prefix, e.g.
// DocBlock("/**", " *", " */", text) for JSDoc.
func (w *Writer) DocBlock(open, middle, closer, text string) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return
	}
	w.Line(open)
	for _, line := range lines {
		if line == "" {
			w.Line(middle)
			continue
		}
		w.Linef("%s %s", middle, line)
	}
	w.Line(closer)
}

// String returns the generated text.
func (w *Writer) String() string {
	return w.sb.String()
}

// Bytes returns the generated text as bytes.
func (w *Writer) Bytes() []byte {
	return []byte(w.sb.String())
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.sb.Len()
}

// Reset clears content and indentation.
func (w *Writer) Reset() {
	w.sb.Reset()
	w.indentLevel = 0
	w.linePrefix = ""
	w.needsIndent = true
}

// splitLines trims text and splits it on newlines, dropping carriage
// returns and trailing blanks.
func splitLines(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return lines
}
