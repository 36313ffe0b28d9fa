package cmd

import (
	"context"
	"io"

	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/editor"
)

// runSelect opens the editor at the location given as the five record
// fields. Messages go to stderr.
func runSelect(ctx context.Context, fields []string, stderr io.Writer) error {
	log := console.Log()
	loc, err := block.ParseFields(fields)
	if err != nil {
		return err
	}
	if loc == nil {
		log.Debug().Strs("fields", fields).Msg("no location in selection")
		console.Warnf(stderr, "No location found")
		return nil
	}

	c, err := editor.Environment{Fallback: cfg.Editor}.Command(loc)
	if err != nil {
		return err
	}
	if console.Verbose() {
		console.Dimf(stderr, "$ %s", shellQuote(c.Words()))
	}
	return c.Run(ctx)
}
