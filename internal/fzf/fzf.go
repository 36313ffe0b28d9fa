// Package fzf drives the fzf front end: its command line, key bindings and
// the HTTP endpoint it listens on.
package fzf

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/theme"
)

// Binary is the fzf executable.
var Binary = "fzf"

// Environment variables set by fzf for the processes it runs.
const (
	PortEnv    = "FZF_PORT"
	SockEnv    = "FZF_SOCK"
	APIKeyEnv  = "FZF_API_KEY"
	PreviewEnv = "TUICK_PREVIEW"
)

// AbortStatus is fzf's exit status after ctrl-c or esc.
const AbortStatus = 130

// Callbacks are the shell command prefixes fzf runs on events. They are
// already quoted.
type Callbacks struct {
	Reload  string
	Select  string
	Start   string
	Message string
}

// NewCallbacks builds the callbacks that re-invoke self with the internal
// mode flags. extra is passed to every invocation before the mode flag.
func NewCallbacks(self string, extra, command []string) Callbacks {
	quote := func(words ...string) string {
		argv := append([]string{self}, extra...)
		return shellescape.QuoteCommand(append(argv, words...))
	}
	return Callbacks{
		Reload:  quote(append([]string{"--reload", "--"}, command...)...),
		Select:  quote("--select"),
		Start:   quote("--start"),
		Message: quote("--message"),
	}
}

// Options configure one fzf invocation.
type Options struct {
	Command   []string
	Callbacks Callbacks
	Theme     theme.Theme
	Verbose   bool
	// Preview is false when the preview starts hidden.
	Preview bool
	// LookPath finds executables; defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (o Options) getenv(key string) string {
	if o.Getenv != nil {
		return o.Getenv(key)
	}
	return os.Getenv(key)
}

func (o Options) lookPath(name string) bool {
	look := o.LookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(name)
	return err == nil
}

// Header is the command line shown above the list.
func (o Options) Header() string {
	return shellescape.QuoteCommand(o.Command)
}

// RunningHeader is shown while the command runs.
func (o Options) RunningHeader() string {
	return o.Header() + " Running..."
}

// Bindings returns the key and event bindings, in order.
func (o Options) Bindings() []string {
	header := o.Header()
	running := o.RunningHeader()
	verbose := func(event, message string, plus bool) []string {
		if !o.Verbose {
			return nil
		}
		prefix := ""
		if plus {
			prefix = "+"
		}
		return []string{fmt.Sprintf("%s:%sexecute-silent(%s %s)", event, prefix, o.Callbacks.Message, message)}
	}
	selectAction := o.Callbacks.Select + " {1} {2} {3} {4} {5}"

	var b []string
	b = append(b,
		"start:change-header("+running+")",
		"start:+execute-silent("+o.Callbacks.Start+")",
		"load:change-header("+header+")",
	)
	b = append(b, verbose("load", "LOAD", true)...)
	b = append(b,
		"enter:execute("+selectAction+")",
		"r:change-header("+running+")",
	)
	b = append(b, verbose("r", "RELOAD", true)...)
	b = append(b,
		"r:+reload("+o.Callbacks.Reload+")",
		"q:abort",
	)
	b = append(b, verbose("zero", "ZERO", false)...)
	b = append(b,
		"zero:+accept",
		"space:down",
		"backspace:up",
		"/,ctrl-/:toggle-preview",
		"home:first",
		"end:last",
	)
	return b
}

// PreviewCommand shows the selected file with bat, centred on the line.
func (o Options) PreviewCommand() string {
	if !o.lookPath("bat") {
		return "echo 'Preview requires bat (https://github.com/sharkdp/bat)'"
	}
	cmd := []string{"bat"}
	switch {
	case o.getenv("BAT_THEME") != "":
		cmd = append(cmd, "-f")
	case o.Theme == theme.BW:
	default:
		cmd = append(cmd, "-f", "--theme="+o.Theme.BatTheme())
	}
	cmd = append(cmd, "--style=numbers,grid", "--highlight-line={2}", "{1}")
	return strings.Join(cmd, " ")
}

// PreviewWindow is right of the list, on top on narrow terminals, and
// scrolled to the error line.
func (o Options) PreviewWindow() string {
	w := "right,50%,border-line,info,<88(top),+{2}/2"
	if !o.Preview {
		w += ",hidden"
	}
	return w
}

// Args returns the fzf command line.
func (o Options) Args() []string {
	color := "--no-color"
	if c := o.Theme.FzfColor(); c != "" {
		color = "--color=" + c
	}
	return []string{
		Binary, "--listen", "--read0", "--track",
		"--no-sort", "--reverse", "--header-border",
		"--ansi", color, "--highlight-line", "--wrap",
		"--delimiter=" + string(rune(block.FieldSep)), "--with-nth=6",
		"--preview", o.PreviewCommand(),
		"--preview-window", o.PreviewWindow(),
		"--disabled", "--no-input",
		"--bind", strings.Join(o.Bindings(), ","),
	}
}

// PreviewEnabled reads TUICK_PREVIEW; only "0" hides the preview.
func PreviewEnabled(getenv func(string) string) bool {
	return getenv(PreviewEnv) != "0"
}

// Process is a running fzf reading records on its stdin.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// Start runs fzf attached to the terminal, with env as its environment.
func Start(argv, env []string) (*Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting fzf: %w", err)
	}
	return &Process{cmd: cmd, stdin: stdin}, nil
}

// Write sends records to fzf.
func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// CloseInput signals the end of the initial records.
func (p *Process) CloseInput() error {
	return p.stdin.Close()
}

// Wait returns fzf's exit status. A nonzero status is not an error.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// DescribeExit explains an fzf exit status. ok is false for failures.
func DescribeExit(code int) (string, bool) {
	switch code {
	case 0:
		return "normal exit (0)", true
	case 1:
		return "no match (1)", true
	case 2:
		return "error (2)", false
	case 126:
		return "become command denied (126)", false
	case 127:
		return "become command not found (127)", false
	case AbortStatus:
		return "aborted by user (130)", true
	}
	return fmt.Sprintf("exited with status %d", code), false
}
