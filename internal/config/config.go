package config

import (
	"errors"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

// ProjectFile is read from the working directory.
const ProjectFile = ".tuick.toml"

// Config holds all configurable tuick settings.
type Config struct {
	Theme       string   `toml:"theme"` // auto | dark | light | bw
	Preview     *bool    `toml:"preview"`
	Editor      string   `toml:"editor"` // used when no environment variable names one
	Watch       *bool    `toml:"watch"`
	WatchIgnore []string `toml:"watch_ignore"`
	// Durations are strings such as "5s".
	TerminateTimeout time.Duration `toml:"terminate_timeout"`
	ReloadGrace      time.Duration `toml:"reload_grace"`
	// Formats maps a tool name to errorformat patterns.
	Formats map[string][]string `toml:"formats"`
	// Aliases maps a command name to a tool name.
	Aliases map[string]string `toml:"aliases"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	on := true
	return Config{
		Theme:            "auto",
		Preview:          &on,
		Watch:            &on,
		WatchIgnore:      []string{},
		TerminateTimeout: 5 * time.Second,
		ReloadGrace:      10 * time.Second,
		Formats:          map[string][]string{},
		Aliases:          map[string]string{},
	}
}

// GlobalPath is $XDG_CONFIG_HOME/tuick/config.toml.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "tuick", "config.toml")
}

// LoadGlobal reads the user configuration.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	return loadFile(GlobalPath(), true)
}

// LoadProject reads .tuick.toml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &ParseError{Path: path, Err: errors.New("unknown key " + undecoded[0].String())}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults. Formats and aliases are
// merged per entry.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, c := range []*Config{global, project} {
		if c == nil {
			continue
		}
		if c.Theme != "" {
			result.Theme = c.Theme
		}
		if c.Preview != nil {
			result.Preview = c.Preview
		}
		if c.Editor != "" {
			result.Editor = c.Editor
		}
		if c.Watch != nil {
			result.Watch = c.Watch
		}
		if len(c.WatchIgnore) > 0 {
			result.WatchIgnore = c.WatchIgnore
		}
		if c.TerminateTimeout > 0 {
			result.TerminateTimeout = c.TerminateTimeout
		}
		if c.ReloadGrace > 0 {
			result.ReloadGrace = c.ReloadGrace
		}
		maps.Copy(result.Formats, c.Formats)
		maps.Copy(result.Aliases, c.Aliases)
	}
	return result
}

// PreviewEnabled reports the preview setting, on when unset.
func (c Config) PreviewEnabled() bool {
	return c.Preview == nil || *c.Preview
}

// WatchEnabled reports the watch setting, on when unset.
func (c Config) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
