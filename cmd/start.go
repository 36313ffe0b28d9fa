package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/fzf"
)

// runStart tells the session where fzf listens, so file changes can
// trigger reloads.
func runStart(ctx context.Context) error {
	desc, err := fzf.EndpointFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	c, err := coord.FromEnv()
	if err != nil {
		return err
	}
	if err := c.RegisterEndpoint(ctx, desc); err != nil {
		return fmt.Errorf("registering fzf endpoint: %w", err)
	}
	console.Log().Debug().Str("endpoint", desc).Msg("fzf endpoint registered")
	return nil
}
