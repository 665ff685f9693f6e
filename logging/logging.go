// Package logging wires the runtime's structured logging onto
// github.com/joeycumines/logiface, using github.com/joeycumines/stumpy as
// the reference JSON backend. Every PE gets its own *Logger carrying a
// "pe" field, so multi-PE test output (and real multi-process logs) can
// be told apart at a glance.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the ambient logger type used throughout the runtime.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a root Logger writing JSON lines to w (os.Stderr if nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			_, err := w.Write(append(append([]byte(nil), e.Bytes()...), '\n'))
			return err
		})),
	)
}

// ForPE returns a child logger tagged with the given PE index.
func ForPE(root *Logger, pe int) *Logger {
	return root.Clone().Int(`pe`, pe).Logger()
}
