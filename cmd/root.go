package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tuick/internal/config"
	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/theme"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// flagValues holds the command line flags.
type flagValues struct {
	reload     bool
	selectLoc  bool
	start      bool
	format     bool
	message    string
	top        bool
	formatName string
	patterns   []string
	verbose    bool
	theme      string
	noWatch    bool
}

var opts flagValues

// exitStatus ends the process with a specific code after any output has
// been printed.
type exitStatus struct {
	code int
}

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:   "tuick [flags] -- COMMAND [ARGS...]",
	Short: "Browse compiler and checker errors and jump to them in your editor",
	Long: `tuick runs COMMAND, splits its output into errors and shows them in fzf.
Press enter to open the error location in your editor, r to run COMMAND
again, q to quit. Edits to files under the current directory reload the
list automatically.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		console.Setup(os.Stderr, opts.verbose)

		// Load and merge config files.
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)

		if opts.theme == "" {
			opts.theme = cfg.Theme
		}
		if _, err := theme.Parse(opts.theme); err != nil {
			return err
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case opts.reload:
			return runReload(cmd.Context(), args)
		case opts.selectLoc:
			return runSelect(cmd.Context(), args, cmd.ErrOrStderr())
		case opts.start:
			return runStart(cmd.Context())
		case opts.format:
			return runFormat(cmd.Context(), args)
		case cmd.Flags().Changed("message"):
			return runMessage(opts.message, args)
		}
		if len(args) == 0 {
			return errors.New("no command given; usage: tuick [flags] -- COMMAND")
		}
		return runList(cmd.Context(), cmd, args)
	},
}

func init() {
	f := rootCmd.Flags()
	// Everything after COMMAND belongs to COMMAND.
	f.SetInterspersed(false)

	f.BoolVar(&opts.reload, "reload", false, "run COMMAND for a running session (used by fzf)")
	f.BoolVar(&opts.selectLoc, "select", false, "open the editor at FILE LINE COL END_LINE END_COL (used by fzf)")
	f.BoolVar(&opts.start, "start", false, "register the fzf listen address with the session (used by fzf)")
	f.BoolVar(&opts.format, "format", false, "run COMMAND and write records for an enclosing tuick")
	f.StringVar(&opts.message, "message", "", "log an fzf event (used by fzf)")
	for _, name := range []string{"reload", "select", "start", "message"} {
		f.MarkHidden(name)
	}
	rootCmd.MarkFlagsMutuallyExclusive("reload", "select", "start", "format", "message")

	f.BoolVar(&opts.top, "top", false, "treat COMMAND as a build system running nested tuick --format")
	f.StringVarP(&opts.formatName, "format-name", "f", "", "errorformat name to parse COMMAND output with")
	f.StringArrayVarP(&opts.patterns, "pattern", "p", nil, "errorformat pattern, repeatable")
	rootCmd.MarkFlagsMutuallyExclusive("top", "format-name")
	rootCmd.MarkFlagsMutuallyExclusive("top", "pattern")

	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log events and commands to stderr")
	f.StringVar(&opts.theme, "theme", "", "colour theme: auto, dark, light or bw")
	f.BoolVar(&opts.noWatch, "no-watch", false, "do not reload when files change")
}

// Execute runs the root command and exits with the resulting status.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var status exitStatus
	if errors.As(err, &status) {
		os.Exit(status.code)
	}
	console.Errorf(os.Stderr, "%v", err)
	os.Exit(1)
}
