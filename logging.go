package esbridge

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// consolePrinter routes the script console to the structured logger.
type consolePrinter struct {
	logger *logiface.Logger[logiface.Event]
}

func (p consolePrinter) Log(s string) {
	p.logger.Info().Str("source", "console").Log(s)
}

func (p consolePrinter) Warn(s string) {
	p.logger.Warning().Str("source", "console").Log(s)
}

func (p consolePrinter) Error(s string) {
	p.logger.Err().Str("source", "console").Log(s)
}

// scriptLog implements __log(...parts).
func (s *Session) scriptLog(call goja.FunctionCall) goja.Value {
	b := s.logger.Info()
	if !b.Enabled() {
		return goja.Undefined()
	}
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	b.Str("source", "script").Log(strings.Join(parts, " "))
	return goja.Undefined()
}
