package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/coord"
	"github.com/fakeyudi/tuick/internal/editor"
	"github.com/fakeyudi/tuick/internal/framer"
	"github.com/fakeyudi/tuick/internal/fzf"
	"github.com/fakeyudi/tuick/internal/monitor"
	"github.com/fakeyudi/tuick/internal/reload"
	"github.com/fakeyudi/tuick/internal/stream"
	"github.com/fakeyudi/tuick/internal/theme"
	"github.com/fakeyudi/tuick/internal/tui"
)

// listSession is the state shared by the list mode front ends.
type listSession struct {
	argv    []string
	render  reload.RenderFunc
	session *coord.Session
	client  *coord.Client
	// env reaches the session from the commands run for it.
	env    []string
	editor editor.Environment
}

func runList(ctx context.Context, cmd *cobra.Command, argv []string) error {
	log := console.Log()
	render, err := newRenderer(argv, false)
	if err != nil {
		return err
	}
	ed := editor.Environment{Fallback: cfg.Editor}
	if err := ed.Validate(); err != nil {
		return err
	}

	session := coord.NewSession(coord.Options{
		TerminateTimeout: cfg.TerminateTimeout,
		Grace:            cfg.ReloadGrace,
	})
	defer session.Close()
	key := coord.NewAPIKey()
	srv, err := coord.Listen(session, key)
	if err != nil {
		return fmt.Errorf("starting session server: %w", err)
	}
	defer srv.Close()
	go srv.Serve()
	log.Debug().Str("addr", srv.Addr()).Msg("session server listening")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := coord.NewClient(srv.Port(), key)
	ls := &listSession{
		argv:    argv,
		render:  render,
		session: session,
		client:  client,
		env:     client.Env(),
		editor:  ed,
	}
	if console.Verbose() {
		ls.env = append(ls.env, console.VerboseEnv+"=1")
	}

	switch {
	case !term.IsTerminal(os.Stdout.Fd()):
		return ls.runPlain(ctx, cmd.OutOrStdout())
	case !hasFzf():
		log.Debug().Msg("fzf not found, using the built-in picker")
		return ls.runPicker(ctx)
	}
	return ls.runFzf(ctx)
}

func hasFzf() bool {
	_, err := exec.LookPath(fzf.Binary)
	return err == nil
}

// self is the command fzf runs for its callbacks.
func self() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// parseFlags are passed on to the reload command so it parses the same way.
func parseFlags() []string {
	var args []string
	if opts.top {
		args = append(args, "--top")
	}
	if opts.formatName != "" {
		args = append(args, "-f", opts.formatName)
	}
	for _, p := range opts.patterns {
		args = append(args, "-p", p)
	}
	return args
}

func (ls *listSession) options() reload.Options {
	return reload.Options{
		Argv:             ls.argv,
		Env:              ls.env,
		Render:           ls.render,
		TerminateTimeout: cfg.TerminateTimeout,
	}
}

func (ls *listSession) runFzf(ctx context.Context) error {
	log := console.Log()
	th := theme.Detect(theme.Theme(opts.theme))
	fzfKey := coord.NewAPIKey()
	callbacks := fzf.NewCallbacks(self(), parseFlags(), ls.argv)
	fo := fzf.Options{
		Command:   ls.argv,
		Callbacks: callbacks,
		Theme:     th,
		Verbose:   console.Verbose(),
		Preview:   cfg.PreviewEnabled() && fzf.PreviewEnabled(os.Getenv),
	}
	env := append(os.Environ(), ls.env...)
	env = append(env, fzf.APIKeyEnv+"="+fzfKey)
	if th != theme.BW {
		env = append(env, reload.ForceColorEnv)
	}
	ui := newLazyFzf(fo.Args(), env)
	log.Debug().Strs("argv", fo.Args()).Msg("fzf command")

	if cfg.WatchEnabled() && !opts.noWatch {
		go func() {
			err := monitor.Run(ctx, monitor.Options{
				Root:     ".",
				Ignore:   cfg.WatchIgnore,
				Endpoint: ls.session.WaitEndpoint,
				APIKey:   fzfKey,
				Command:  callbacks.Reload,
				Header:   fo.RunningHeader(),
			})
			if err != nil {
				log.Warn().Err(err).Msg("file watching stopped")
			}
		}()
	}

	type result struct {
		code int
		err  error
	}
	firstCtx, cancelFirst := context.WithCancel(ctx)
	defer cancelFirst()
	first := make(chan result, 1)
	go func() {
		code, err := reload.Start(firstCtx, ls.session, ls.options(), ui)
		first <- result{code, err}
	}()

	var res result
	select {
	case res = <-first:
	case <-ui.Exited():
		cancelFirst()
		res = <-first
	}
	if !ui.Started() {
		// Nothing to list.
		if res.err != nil {
			return res.err
		}
		return exitCode(res.code)
	}
	if res.err != nil {
		log.Debug().Err(res.err).Msg("first command")
	}
	ui.CloseInput()

	code, err := ui.Wait()
	if err != nil {
		return err
	}
	msg, ok := fzf.DescribeExit(code)
	if ok {
		log.Debug().Msg("fzf: " + msg)
	} else {
		log.Warn().Msg("fzf: " + msg)
	}
	switch code {
	case 0, 1:
		return nil
	case fzf.AbortStatus:
		return ls.replay(os.Stdout)
	}
	return exitStatus{code}
}

// replay prints the last complete output, for reading after the list is
// gone.
func (ls *listSession) replay(w io.Writer) error {
	saved, err := ls.session.SavedOutput()
	if err != nil {
		return err
	}
	return stream.Replay(w, saved)
}

// runPlain prints the records' text when there is no terminal to show a
// list on.
func (ls *listSession) runPlain(ctx context.Context, w io.Writer) error {
	pr := &recordPrinter{w: w}
	code, err := reload.Start(ctx, ls.session, ls.options(), pr)
	if err != nil {
		return err
	}
	if err := pr.Flush(); err != nil {
		return err
	}
	return exitCode(code)
}

// runPicker shows the records in the built-in picker. Reloads go through
// the session server like fzf's.
func (ls *listSession) runPicker(ctx context.Context) error {
	loads := 0
	load := func(context.Context) ([]block.Block, error) {
		var buf bytes.Buffer
		var err error
		if loads == 0 {
			_, err = reload.Start(ctx, ls.session, ls.options(), &buf)
		} else {
			_, err = reload.Run(ctx, ls.client, ls.options(), &buf)
		}
		loads++
		blocks := decodeRecords(buf.Bytes())
		if len(blocks) > 0 {
			return blocks, nil
		}
		return blocks, err
	}
	open := func(loc *block.Location) (*exec.Cmd, error) {
		c, err := ls.editor.Command(loc)
		if err != nil {
			return nil, err
		}
		words := c.Words()
		return exec.Command(words[0], words[1:]...), nil
	}
	aborted, err := tui.Run(shellQuote(ls.argv), load, open)
	if err != nil {
		return err
	}
	if aborted {
		return ls.replay(os.Stdout)
	}
	return nil
}

func decodeRecords(data []byte) []block.Block {
	var blocks []block.Block
	for _, rec := range framer.SplitRecords(data) {
		if len(rec) == 0 {
			continue
		}
		b, err := block.Decode(rec)
		if err != nil {
			console.Log().Debug().Err(err).Msg("skipping record")
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return exitStatus{code}
}

// recordPrinter writes the content of each complete record on its own
// line.
type recordPrinter struct {
	w   io.Writer
	buf []byte
}

func (p *recordPrinter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, block.RecordSep)
		if i < 0 {
			return len(b), nil
		}
		if err := p.print(p.buf[:i]); err != nil {
			return len(b), err
		}
		p.buf = p.buf[i+1:]
	}
}

func (p *recordPrinter) print(rec []byte) error {
	if len(rec) == 0 {
		return nil
	}
	b, err := block.Decode(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, b.Content)
	return err
}

// Flush prints a trailing record without a separator.
func (p *recordPrinter) Flush() error {
	err := p.print(p.buf)
	p.buf = nil
	return err
}

// lazyFzf starts fzf on the first record, so a command without output
// never shows an empty list.
type lazyFzf struct {
	argv, env []string

	mu      sync.Mutex
	proc    *fzf.Process
	err     error
	exited  chan struct{}
	code    int
	waitErr error
}

func newLazyFzf(argv, env []string) *lazyFzf {
	return &lazyFzf{argv: argv, env: env, exited: make(chan struct{})}
}

func (l *lazyFzf) Write(b []byte) (int, error) {
	l.mu.Lock()
	if l.proc == nil && l.err == nil {
		l.proc, l.err = fzf.Start(l.argv, l.env)
		if l.err == nil {
			go func(p *fzf.Process) {
				l.code, l.waitErr = p.Wait()
				close(l.exited)
			}(l.proc)
		}
	}
	proc, err := l.proc, l.err
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return proc.Write(b)
}

// Started reports whether fzf was launched.
func (l *lazyFzf) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.proc != nil
}

// Exited is closed when fzf exits. It never closes if fzf was not started.
func (l *lazyFzf) Exited() <-chan struct{} {
	return l.exited
}

func (l *lazyFzf) CloseInput() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc != nil {
		l.proc.CloseInput()
	}
}

// Wait returns fzf's exit status.
func (l *lazyFzf) Wait() (int, error) {
	<-l.exited
	return l.code, l.waitErr
}
