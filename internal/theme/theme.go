// Package theme picks the colour theme shared by fzf and the preview.
package theme

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"
)

// Theme is a colour theme name.
type Theme string

const (
	Auto  Theme = "auto"
	Dark  Theme = "dark"
	Light Theme = "light"
	BW    Theme = "bw"
)

// Known COLORFGBG values for black on white and white on black terminals.
var (
	lightColorFGBG = []string{"0;15", "0;default;15"}
	darkColorFGBG  = []string{"15;0", "15;default;0"}
)

// Parse validates a theme name given on the command line or in config.
func Parse(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(s)); t {
	case Auto, Dark, Light, BW:
		return t, nil
	case "":
		return Auto, nil
	}
	return "", fmt.Errorf("invalid theme %q: want auto, dark, light or bw", s)
}

// Detector resolves Auto into a concrete theme.
type Detector struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Background queries the terminal; ok is false when it cannot tell.
	// Defaults to a termenv query on stderr.
	Background func() (dark bool, ok bool)
}

func (d Detector) getenv(key string) string {
	if d.Getenv != nil {
		return d.Getenv(key)
	}
	return os.Getenv(key)
}

// Detect returns option unless it is Auto. Otherwise CLI_THEME wins, then a
// non-empty NO_COLOR selects BW, then the terminal background, then
// COLORFGBG. Dark is the fallback.
func (d Detector) Detect(option Theme) Theme {
	if option != Auto && option != "" {
		return option
	}
	if t, err := Parse(d.getenv("CLI_THEME")); err == nil && t != Auto {
		return t
	}
	if d.getenv("NO_COLOR") != "" {
		return BW
	}
	background := d.Background
	if background == nil {
		background = terminalBackground
	}
	if dark, ok := background(); ok {
		if dark {
			return Dark
		}
		return Light
	}
	if t, ok := fromColorFGBG(d.getenv("COLORFGBG")); ok {
		return t
	}
	return Dark
}

// Detect resolves option with the process environment and terminal.
func Detect(option Theme) Theme {
	return Detector{}.Detect(option)
}

func fromColorFGBG(v string) (Theme, bool) {
	for _, s := range lightColorFGBG {
		if v == s {
			return Light, true
		}
	}
	for _, s := range darkColorFGBG {
		if v == s {
			return Dark, true
		}
	}
	return "", false
}

func terminalBackground() (bool, bool) {
	if !term.IsTerminal(os.Stderr.Fd()) {
		return false, false
	}
	return termenv.NewOutput(os.Stderr).HasDarkBackground(), true
}

// FzfColor returns the --color value for fzf, or "" when colours are
// disabled.
func (t Theme) FzfColor() string {
	switch t {
	case Light:
		return "light"
	case BW:
		return ""
	}
	return "dark"
}

// BatTheme returns the bat theme for the preview, or "" to leave bat's
// choice alone.
func (t Theme) BatTheme() string {
	switch t {
	case Light, Dark:
		return string(t)
	}
	return ""
}
