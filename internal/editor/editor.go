// Package editor builds the command that opens a file at an error location.
package editor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/fakeyudi/tuick/internal/block"
)

// Template variables, expanded with {file}, {line} and {column}.
const (
	LineEnv       = "TUICK_EDITOR_LINE"
	LineColumnEnv = "TUICK_EDITOR_LINE_COLUMN"
)

var (
	ErrNoEditor    = errors.New("no editor configured. Set EDITOR or VISUAL environment variable")
	ErrUnsupported = errors.New("unsupported editor")
)

// Command opens an editor. Exactly one of Argv and URL is set.
type Command struct {
	Argv []string
	URL  string
}

// Words returns the command line that Run executes.
func (c Command) Words() []string {
	if c.URL == "" {
		return c.Argv
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"open", c.URL}
	case "windows":
		return []string{"cmd", "/c", "start", "", c.URL}
	}
	return []string{"xdg-open", c.URL}
}

func (c Command) String() string {
	return strings.Join(c.Words(), " ")
}

// Run executes the command attached to the terminal.
func (c Command) Run(ctx context.Context) error {
	words := c.Words()
	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running editor: %w", err)
	}
	return nil
}

// Environment selects the editor. The zero value reads the process
// environment.
type Environment struct {
	Getenv func(string) string
	// Fallback is used when no variable names an editor.
	Fallback string
}

func (e Environment) getenv(key string) string {
	if e.Getenv != nil {
		return e.Getenv(key)
	}
	return os.Getenv(key)
}

// Editor returns TUICK_EDITOR, EDITOR, VISUAL or the fallback, in that
// order.
func (e Environment) Editor() string {
	for _, key := range []string{"TUICK_EDITOR", "EDITOR", "VISUAL"} {
		if v := e.getenv(key); v != "" {
			return v
		}
	}
	return e.Fallback
}

// Validate checks the template variables so mistakes surface at startup.
func (e Environment) Validate() error {
	if t := e.getenv(LineEnv); t != "" {
		if _, err := expand(t, "test.go", 1, 0); err != nil {
			return fmt.Errorf("invalid %s template: %w", LineEnv, err)
		}
	}
	if t := e.getenv(LineColumnEnv); t != "" {
		if _, err := expand(t, "test.go", 1, 1); err != nil {
			return fmt.Errorf("invalid %s template: %w", LineColumnEnv, err)
		}
	}
	return nil
}

// Command builds the command opening loc. Templates take precedence over
// the editor's known syntax.
func (e Environment) Command(loc *block.Location) (Command, error) {
	if loc == nil || loc.File == "" {
		return Command{}, errors.New("no location to open")
	}
	lineCol, line := e.getenv(LineColumnEnv), e.getenv(LineEnv)
	if loc.Column > 0 && lineCol != "" {
		argv, err := expand(lineCol, loc.File, loc.Line, loc.Column)
		return Command{Argv: argv}, err
	}
	if line != "" {
		argv, err := expand(line, loc.File, loc.Line, 0)
		return Command{Argv: argv}, err
	}
	if lineCol != "" {
		argv, err := expand(lineCol, loc.File, loc.Line, max(loc.Column, 1))
		return Command{Argv: argv}, err
	}

	editor := e.Editor()
	if editor == "" {
		return Command{}, ErrNoEditor
	}
	path, args := split(editor)
	return build(path, args, loc)
}

// split separates the editor path from its arguments. The directory part
// may contain spaces.
func split(editor string) (string, []string) {
	dir, rest := filepath.Split(editor)
	words := strings.Fields(rest)
	if len(words) == 0 {
		return editor, nil
	}
	return dir + words[0], words[1:]
}

var placeholder = regexp.MustCompile(`\{[^{}]*\}`)

// expand splits a template into words and then substitutes the
// placeholders, so file names with spaces stay one word.
func expand(template, file string, line, column int) ([]string, error) {
	path, args := split(template)
	values := map[string]string{"file": file, "line": strconv.Itoa(line)}
	if column > 0 {
		values["column"] = strconv.Itoa(column)
	}
	words := append([]string{path}, args...)
	out := make([]string, len(words))
	var bad error
	for i, w := range words {
		out[i] = placeholder.ReplaceAllStringFunc(w, func(m string) string {
			v, ok := values[m[1:len(m)-1]]
			if !ok && bad == nil {
				bad = fmt.Errorf("unknown placeholder %s", m)
			}
			return v
		})
	}
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

func build(path string, args []string, loc *block.Location) (Command, error) {
	name := filepath.Base(path)
	if runtime.GOOS == "windows" {
		name = strings.TrimSuffix(name, ".exe")
	}
	row := strconv.Itoa(loc.Line)
	col := ""
	if loc.Column > 0 {
		col = strconv.Itoa(loc.Column)
	}
	argv := append([]string{path}, args...)
	colon := loc.File + ":" + row
	if col != "" {
		colon += ":" + col
	}

	switch name {
	case "vim", "nvim", "vi":
		argv = append(argv, "+"+row)
		if col != "" {
			argv = append(argv, "+normal! "+col+"l")
		}
		return Command{Argv: append(argv, loc.File)}, nil
	case "emacs", "emacsclient", "gedit", "kak":
		pos := "+" + row
		if col != "" {
			pos += ":" + col
		}
		return Command{Argv: append(argv, pos, loc.File)}, nil
	case "nano":
		pos := "+" + row
		if col != "" {
			pos += "," + col
		}
		return Command{Argv: append(argv, pos, loc.File)}, nil
	case "joe", "ee":
		return Command{Argv: append(argv, "+"+row, loc.File)}, nil
	case "subl", "helix", "hx", "zed":
		return Command{Argv: append(argv, colon)}, nil
	case "micro":
		pos := "+" + row
		if col != "" {
			pos += ":" + col
		}
		return Command{Argv: append(argv, loc.File, pos)}, nil
	case "code", "code-oss", "surf", "cursor":
		if slices.Contains(args, "--wait") {
			return Command{Argv: append(argv, "--goto", colon)}, nil
		}
		abs, err := filepath.Abs(loc.File)
		if err != nil {
			return Command{}, err
		}
		scheme := map[string]string{"code": "vscode", "code-oss": "code-oss", "surf": "windsurf", "cursor": "cursor"}[name]
		u := scheme + "://file" + filepath.ToSlash(abs) + ":" + row
		if col != "" {
			u += ":" + col
		}
		return Command{URL: u}, nil
	case "idea", "charm", "pycharm":
		if name == "idea" && slices.Contains(args, "--wait") {
			argv = append(argv, "--line", row)
			if col != "" {
				argv = append(argv, "--column", col)
			}
			return Command{Argv: append(argv, loc.File)}, nil
		}
		abs, err := filepath.Abs(loc.File)
		if err != nil {
			return Command{}, err
		}
		scheme := "idea"
		if name != "idea" {
			scheme = "pycharm"
		}
		u := scheme + "://open?file=" + url.PathEscape(abs) + "&line=" + row
		if col != "" {
			u += "&column=" + col
		}
		return Command{URL: u}, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnsupported, name)
}
