package coord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	// PortEnv and KeyEnv locate the session server for nested invocations.
	PortEnv = "TUICK_PORT"
	KeyEnv  = "TUICK_API_KEY"

	dialTimeout = 5 * time.Second
)

// Client talks to a session server. Each call uses its own connection.
type Client struct {
	Addr string
	Key  string
}

// NewClient returns a client for a server on the loopback port.
func NewClient(port int, key string) *Client {
	return &Client{Addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), Key: key}
}

// FromEnv builds a client from TUICK_PORT and TUICK_API_KEY.
func FromEnv() (*Client, error) {
	port, key := os.Getenv(PortEnv), os.Getenv(KeyEnv)
	if port == "" || key == "" {
		return nil, fmt.Errorf("%w: missing %s or %s", ErrNoSession, PortEnv, KeyEnv)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", PortEnv, port, err)
	}
	return NewClient(n, key), nil
}

// Env returns the variables that let a child reach this client's server.
func (c *Client) Env() []string {
	_, port, _ := net.SplitHostPort(c.Addr)
	return []string{PortEnv + "=" + port, KeyEnv + "=" + c.Key}
}

type conn struct {
	net.Conn
	br *bufio.Reader
}

// open dials the server and sends the auth and command lines.
func (c *Client) open(ctx context.Context, command string) (*conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if _, err := fmt.Fprintf(nc, "%s%s\n%s\n", authPrefix, c.Key, command); err != nil {
		nc.Close()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}
	return &conn{Conn: nc, br: bufio.NewReader(nc)}, nil
}

func (cn *conn) reply() (string, string, error) {
	line, err := readLine(cn.br)
	if err != nil {
		return "", "", fmt.Errorf("read reply: %w", err)
	}
	return parseReply(line)
}

func (c *Client) roundTrip(ctx context.Context, command, want string) (string, error) {
	cn, err := c.open(ctx, command)
	if err != nil {
		return "", err
	}
	defer cn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		cn.SetDeadline(deadline)
	}
	word, arg, err := cn.reply()
	if err != nil {
		return "", err
	}
	if word != want {
		return "", fmt.Errorf("unexpected reply %q to %s", word, command)
	}
	return arg, nil
}

// RegisterEndpoint records the UI endpoint with the session.
func (c *Client) RegisterEndpoint(ctx context.Context, desc string) error {
	_, err := c.roundTrip(ctx, cmdEndpoint+" "+desc, replyOK)
	return err
}

// Endpoint returns the UI endpoint registered with the session.
func (c *Client) Endpoint(ctx context.Context) (string, error) {
	return c.roundTrip(ctx, cmdQueryEndpoint, replyOK)
}

// RequestReload blocks until the session has stopped its current command
// and returns the generation to install the replacement with.
func (c *Client) RequestReload(ctx context.Context) (uint64, error) {
	cn, err := c.open(ctx, cmdReload)
	if err != nil {
		return 0, err
	}
	defer cn.Close()
	stop := context.AfterFunc(ctx, func() { cn.Close() })
	defer stop()
	word, arg, err := cn.reply()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	if word != replyGo {
		return 0, fmt.Errorf("unexpected reply %q to reload", word)
	}
	gen, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid generation %q", arg)
	}
	return gen, nil
}

// SavedOutput returns the session's last committed output.
func (c *Client) SavedOutput(ctx context.Context) ([]byte, error) {
	cn, err := c.open(ctx, cmdQueryOutput)
	if err != nil {
		return nil, err
	}
	defer cn.Close()
	word, arg, err := cn.reply()
	if err != nil {
		return nil, err
	}
	n, convErr := strconv.Atoi(arg)
	if word != replyOK || convErr != nil || n < 0 {
		return nil, fmt.Errorf("unexpected reply %q to %s", word+" "+arg, cmdQueryOutput)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(cn.br, data); err != nil {
		return nil, fmt.Errorf("read saved output: %w", err)
	}
	return data, nil
}

// Control is the connection that keeps a reload client's command installed.
type Control struct {
	cn        *conn
	terminate chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// Install registers the command started for reload gen. The returned
// Control reports termination requests until Exited is called.
func (c *Client) Install(ctx context.Context, gen uint64, pid int) (*Control, error) {
	cn, err := c.open(ctx, fmt.Sprintf("%s %d %d", cmdInstall, gen, pid))
	if err != nil {
		return nil, err
	}
	word, _, err := cn.reply()
	if err == nil && word != replyOK {
		err = fmt.Errorf("unexpected reply %q to install", word)
	}
	if err != nil {
		cn.Close()
		return nil, err
	}
	ctl := &Control{cn: cn, terminate: make(chan struct{})}
	go ctl.read()
	return ctl, nil
}

func (ctl *Control) read() {
	for {
		line, err := readLine(ctl.cn.br)
		if err != nil {
			return
		}
		if line == msgTerminate {
			close(ctl.terminate)
			return
		}
	}
}

// Terminate is closed when the session asks for the command to stop.
func (ctl *Control) Terminate() <-chan struct{} {
	return ctl.terminate
}

// Exited reports the command's exit status and closes the connection.
func (ctl *Control) Exited(code int) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	_, err := fmt.Fprintf(ctl.cn, "%s %d\n", msgExited, code)
	ctl.Close()
	return err
}

// Close drops the control connection without a report.
func (ctl *Control) Close() error {
	var err error
	ctl.closeOnce.Do(func() { err = ctl.cn.Close() })
	return err
}

// OutputWriter streams a command output to the session. Nothing is saved
// unless Commit succeeds.
type OutputWriter struct {
	cn *conn
	bw *bufio.Writer
}

// SaveOutput opens an output capture on the session.
func (c *Client) SaveOutput(ctx context.Context) (*OutputWriter, error) {
	cn, err := c.open(ctx, cmdSaveOutput)
	if err != nil {
		return nil, err
	}
	word, _, err := cn.reply()
	if err == nil && word != replyOK {
		err = fmt.Errorf("unexpected reply %q to %s", word, cmdSaveOutput)
	}
	if err != nil {
		cn.Close()
		return nil, err
	}
	return &OutputWriter{cn: cn, bw: bufio.NewWriter(cn)}, nil
}

func (w *OutputWriter) Write(p []byte) (int, error) {
	for rest := p; len(rest) > 0; {
		n := min(len(rest), maxFrame)
		if err := writeFrame(w.bw, rest[:n]); err != nil {
			return len(p) - len(rest), err
		}
		rest = rest[n:]
	}
	return len(p), nil
}

// Commit ends the capture and waits for the session to save it.
func (w *OutputWriter) Commit() error {
	defer w.cn.Close()
	if _, err := fmt.Fprintf(w.bw, "%s\n", frameEnd); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	word, _, err := w.cn.reply()
	if err != nil {
		return err
	}
	if word != replyOK {
		return errors.New("output not committed")
	}
	return nil
}

// Abort drops the capture; the previously saved output is kept.
func (w *OutputWriter) Abort() error {
	return w.cn.Close()
}
