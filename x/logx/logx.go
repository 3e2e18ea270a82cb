// Package logx builds the process loggers: slog over tint, coloured only on
// a terminal.
package logx

import (
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New returns a stderr logger tagged with component.
func New(component string, level slog.Level) *slog.Logger {
	var handler slog.Handler
	if runtime.GOOS == "windows" {
		handler = tint.NewHandler(colorable.NewColorableStderr(), &tint.Options{Level: level})
	} else {
		w := os.Stderr
		handler = tint.NewHandler(w, &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(w.Fd()),
		})
	}
	return slog.New(handler).With(slog.String("component", component))
}

// NewTo writes uncoloured output to w.
func NewTo(w io.Writer, component string, level slog.Level) *slog.Logger {
	h := tint.NewHandler(w, &tint.Options{Level: level, NoColor: true})
	return slog.New(h).With(slog.String("component", component))
}

// Err is the error attribute tint renders highlighted.
func Err(err error) slog.Attr { return tint.Err(err) }

// Discard drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }
