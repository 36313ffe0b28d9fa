package cmd

import "github.com/fakeyudi/tuick/internal/console"

// runMessage logs an fzf event from a verbose binding.
func runMessage(text string, args []string) error {
	console.Log().Debug().Str("event", text).Strs("args", args).Msg("fzf")
	return nil
}
