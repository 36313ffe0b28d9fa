package cmd

import (
	"al.essio.dev/pkg/shellescape"

	"github.com/fakeyudi/tuick/internal/assemble"
	"github.com/fakeyudi/tuick/internal/reload"
	"github.com/fakeyudi/tuick/internal/stream"
	"github.com/fakeyudi/tuick/internal/tools"
)

// newRenderer picks how argv's output becomes records. Build systems are
// read in orchestrator mode unless a format is given explicitly.
func newRenderer(argv []string, nested bool) (reload.RenderFunc, error) {
	reg := &tools.Registry{Formats: cfg.Formats, Aliases: cfg.Aliases}
	rn := &stream.Renderer{Nested: nested}
	explicit := opts.formatName != "" || len(opts.patterns) > 0
	if opts.top || (!explicit && reg.IsBuildSystem(reg.Detect(argv))) {
		rn.Top = true
		return rn.Render, nil
	}
	res, err := reg.Resolve(argv, opts.formatName, opts.patterns)
	if err != nil {
		return nil, err
	}
	rn.Parser = &assemble.Parser{Config: res.Matcher, Policy: res.Policy}
	return rn.Render, nil
}

func shellQuote(argv []string) string {
	return shellescape.QuoteCommand(argv)
}
