// Package console holds the process-wide logger and the styled messages
// printed to the user's terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

// VerboseEnv propagates verbosity to nested invocations.
const VerboseEnv = "TUICK_VERBOSE"

var (
	log     = newLogger(os.Stderr, false)
	verbose bool

	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Setup configures the logger. Verbosity is enabled by the flag or by
// TUICK_VERBOSE=1 inherited from a parent invocation.
func Setup(w io.Writer, verboseFlag bool) {
	verbose = verboseFlag || os.Getenv(VerboseEnv) == "1"
	log = newLogger(w, verbose)
}

// Log returns the configured logger.
func Log() *zerolog.Logger {
	return &log
}

// Verbose reports whether debug output is enabled.
func Verbose() bool {
	return verbose
}

// Errorf prints a message prefixed with a bold red "Error:".
func Errorf(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error:"), fmt.Sprintf(format, a...))
}

// Warnf prints a highlighted notice.
func Warnf(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf(format, a...)))
}

// Dimf prints a faint line, used for command echoes.
func Dimf(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf(format, a...)))
}
