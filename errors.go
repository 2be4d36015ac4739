package esbridge

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

var (
	// ErrUnknownOperation is returned when invoking an operation that was
	// never registered.
	ErrUnknownOperation = errors.New("esbridge: unknown operation")

	// ErrOwnerGone is the panic value of [Session.Owner] once the owning
	// [Runtime] has been reclaimed.
	ErrOwnerGone = errors.New("esbridge: owning runtime is gone")

	// ErrBuilderReused is returned by [Builder.Build] after the first call.
	ErrBuilderReused = errors.New("esbridge: builder already built")

	// ErrModuleNotFound should be returned, possibly wrapped, by a
	// [ModuleLoader] that has no source for a name.
	ErrModuleNotFound = errors.New("esbridge: module not found")

	// ErrModuleLoaded is returned when loading different source under the name
	// of a module that was already evaluated.
	ErrModuleLoaded = errors.New("esbridge: module already loaded")

	// ErrNotFunction is returned by Call when the path does not resolve to a
	// function.
	ErrNotFunction = errors.New("esbridge: not a function")
)

// ScriptError describes a failure raised by the engine, with the position
// mapped back to the original source where a source map is known.
type ScriptError struct {
	cause    error
	Filename string
	Message  string
	Stack    string
	Line     int
	Column   int
}

func (e *ScriptError) Error() string {
	if e.Filename == "" && e.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Filename, e.Line, e.Column, e.Message)
}

// Unwrap returns the engine error, e.g. a *goja.Exception.
func (e *ScriptError) Unwrap() error {
	return e.cause
}

var (
	// "<file>: Line <l>:<c> <message>", produced by the goja parser
	syntaxErrorPattern = regexp.MustCompile(`^(.*?): Line (\d+):(\d+) (.*)$`)

	// "at [name (]<file>:<l>:<c>(<pc>)"
	stackFramePattern = regexp.MustCompile(`at (?:[^\s(]+ \()?([^\s()]+):(\d+):(\d+)\(\d+\)`)
)

// positionMapper maps a generated position back to the original source.
type positionMapper interface {
	mapPosition(filename string, line, column int) (string, int, int, bool)
}

// newScriptError converts an engine error into a *ScriptError. Errors that do
// not originate from the engine are returned as is.
func newScriptError(err error, mapper positionMapper) error {
	if err == nil {
		return nil
	}

	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}

	var (
		syntax    *goja.CompilerSyntaxError
		exception *goja.Exception
	)
	switch {
	case errors.As(err, &syntax):
		se = &ScriptError{cause: err, Message: syntax.Message}
		se.parseSyntaxMessage(syntax.Message)

	case errors.As(err, &exception):
		se = &ScriptError{
			cause:   err,
			Message: exceptionMessage(exception),
			Stack:   exception.String(),
		}
		// RunScript reports compile failures as a thrown SyntaxError whose
		// message carries the position, with no stack frame
		if isSyntaxError(exception) && se.parseSyntaxMessage(se.Message) {
			break
		}
		for _, m := range stackFramePattern.FindAllStringSubmatch(se.Stack, -1) {
			if m[1] == bridgeName {
				continue
			}
			se.Filename = m[1]
			se.Line, _ = strconv.Atoi(m[2])
			se.Column, _ = strconv.Atoi(m[3])
			break
		}

	default:
		return err
	}

	if mapper != nil && se.Filename != "" {
		if file, line, column, ok := mapper.mapPosition(se.Filename, se.Line, se.Column); ok {
			se.Filename, se.Line, se.Column = file, line, column
		}
	}

	return se
}

// parseSyntaxMessage sets the position from a parser message, reporting
// whether msg had the expected shape.
func (e *ScriptError) parseSyntaxMessage(msg string) bool {
	for {
		trimmed, ok := strings.CutPrefix(msg, "SyntaxError: ")
		if !ok {
			break
		}
		msg = trimmed
	}
	// only the first of several errors is reported
	first, _, _ := strings.Cut(msg, " (and ")
	m := syntaxErrorPattern.FindStringSubmatch(first)
	if m == nil {
		return false
	}
	e.Filename = m[1]
	e.Line, _ = strconv.Atoi(m[2])
	e.Column, _ = strconv.Atoi(m[3])
	e.Message = m[4]
	return true
}

func isSyntaxError(ex *goja.Exception) bool {
	if obj, ok := ex.Value().(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && name.String() == "SyntaxError" {
			return true
		}
	}
	return strings.HasPrefix(ex.Error(), "SyntaxError: ")
}

// exceptionMessage prefers the message property of thrown errors, falling
// back to the string conversion of whatever was thrown.
func exceptionMessage(ex *goja.Exception) string {
	v := ex.Value()
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	if v == nil {
		return ex.Error()
	}
	return v.String()
}

// transformError converts esbuild diagnostics into a *ScriptError, carrying
// the location of the first one.
func transformError(name string, messages []api.Message) error {
	se := &ScriptError{Filename: name}
	texts := make([]string, 0, len(messages))
	for i, msg := range messages {
		texts = append(texts, msg.Text)
		if i == 0 && msg.Location != nil {
			if msg.Location.File != "" {
				se.Filename = msg.Location.File
			}
			se.Line = msg.Location.Line
			// esbuild columns are zero based
			se.Column = msg.Location.Column + 1
		}
	}
	se.Message = strings.Join(texts, "; ")
	return se
}
