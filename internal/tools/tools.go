// Package tools maps a command line to the errorformat patterns and grouping
// policy used to parse its output.
package tools

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/fakeyudi/tuick/internal/assemble"
	"github.com/fakeyudi/tuick/internal/matcher"
)

// ErrUnknownTool is returned when no format is known for a command.
var ErrUnknownTool = errors.New("unknown tool")

// builtinNames use errorformat's own -name patterns.
var builtinNames = map[string]bool{"flake8": true}

// buildStub turns every output line of a build tool into an informational
// entry.
var buildStub = []string{"%C%m", "%A%m"}

var customPatterns = map[string][]string{
	"make":  buildStub,
	"just":  buildStub,
	"cmake": buildStub,
	"ninja": buildStub,
	"pytest": {
		"%E%f:%l: %m",
		"%E%f:%l: ",
		"%G=%#%m%#=%#",
		"%G_%#%m%#_%#",
		"%C%s%m",
	},
	"ruff": {
		"%E%f:%l:%c: %m",
		`%E%[A-Z]\+%[0-9]\+ %.%#`,
		"%C %#--> %f:%l:%c",
		`%C %#%[0-9]%# \+|%.%#`,
		"%Chelp: %.%#",
		"%Z",
		"%GAll checks passed!",
		`%AFound %[0-9]\+ error%.%#`,
		"%CNo fixes available %.%#",
		`%C[*] %[0-9]\+ fixable %.%#`,
		"%+C%.%#",
	},
}

// overridePatterns replace errorformat's builtin patterns for the tool.
// mypy's builtin ignores column ranges and multi-line messages.
var overridePatterns = map[string][]string{
	"mypy": {
		"%E%f:%l:%c:%e:%k: %t%*[a-z]: %m",
		"%E%f:%l:%c: %t%*[a-z]: %m",
		"%E%f:%l: %t%*[a-z]: %m",
		"%I%f: %t%*[a-z]: %m",
		"%GFound %.%# error%.%# in %.%# file%.%#",
		"%GSuccess: no issues found%.%#",
		"%C%.%#",
	},
}

var buildSystems = map[string]bool{"make": true, "just": true, "cmake": true, "ninja": true}

var defaultAliases = map[string]string{
	"dmypy": "mypy",
	"gmake": "make",
}

// Registry resolves tools. The zero value knows only the builtin tools.
type Registry struct {
	// Formats adds or replaces patterns per tool name.
	Formats map[string][]string
	// Aliases adds command name aliases.
	Aliases map[string]string
	// Builtins lists errorformat's named formats; defaults to
	// matcher.BuiltinFormats.
	Builtins func() (map[string]bool, error)
}

// Resolution is everything needed to parse one command's output.
type Resolution struct {
	Tool    string
	Matcher matcher.Config
	Policy  assemble.Policy
	// Build is set for build systems, whose output interleaves nested
	// record runs.
	Build bool
}

func (r *Registry) aliases() map[string]string {
	all := maps.Clone(defaultAliases)
	maps.Copy(all, r.Aliases)
	return all
}

// Detect returns the tool name for argv: the base name of the executable
// with aliases applied.
func (r *Registry) Detect(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	tool := filepath.Base(argv[0])
	if alias, ok := r.aliases()[tool]; ok {
		return alias
	}
	return tool
}

// IsBuildSystem reports whether tool orchestrates nested invocations.
func (r *Registry) IsBuildSystem(tool string) bool {
	return buildSystems[tool]
}

// Patterns returns the patterns registered for name, with ok false when the
// name needs errorformat's builtin lookup instead.
func (r *Registry) Patterns(name string) ([]string, bool) {
	if p, ok := r.Formats[name]; ok {
		return p, true
	}
	if p, ok := overridePatterns[name]; ok {
		return p, true
	}
	p, ok := customPatterns[name]
	return p, ok
}

func (r *Registry) isBuiltin(name string) (bool, error) {
	if builtinNames[name] {
		return true, nil
	}
	list := r.Builtins
	if list == nil {
		list = matcher.BuiltinFormats
	}
	names, err := list()
	if err != nil {
		return false, err
	}
	return names[name], nil
}

// Resolve picks the matcher configuration for argv. An explicit format name
// or explicit patterns take precedence over detection.
func (r *Registry) Resolve(argv []string, formatName string, patterns []string) (Resolution, error) {
	tool := r.Detect(argv)
	res := Resolution{Tool: tool, Build: r.IsBuildSystem(tool)}

	if len(patterns) > 0 {
		name := formatName
		if name == "" {
			name = tool
		}
		res.Matcher = matcher.Config{Name: name, Patterns: patterns}
		res.Policy = assemble.PolicyFor(formatName)
		return res, nil
	}

	name := tool
	if formatName != "" {
		name = formatName
	}
	res.Policy = assemble.PolicyFor(name)
	if p, ok := r.Patterns(name); ok {
		res.Matcher = matcher.Config{Name: name, Patterns: p}
		return res, nil
	}
	builtin, err := r.isBuiltin(name)
	if err != nil {
		return res, err
	}
	if !builtin {
		if formatName != "" {
			return res, fmt.Errorf("%w: format %q is not known to errorformat", ErrUnknownTool, name)
		}
		return res, fmt.Errorf("%w: %q; use -f/--format-name or -p/--pattern", ErrUnknownTool, tool)
	}
	res.Matcher = matcher.Config{Name: name}
	return res, nil
}
