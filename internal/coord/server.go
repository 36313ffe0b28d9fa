package coord

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/tuick/internal/console"
	"github.com/fakeyudi/tuick/internal/process"
)

// requestTimeout bounds reading the auth and command lines.
const requestTimeout = 10 * time.Second

// Server accepts coordination requests for one session on a loopback TCP
// port, one goroutine per connection.
type Server struct {
	session *Session
	key     string
	ln      net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds an ephemeral loopback port.
func Listen(session *Session, key string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{session: session, key: key, ln: ln, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close stops accepting, closes open connections and waits for their
// handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.ln.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func reply(w io.Writer, format string, a ...any) error {
	_, err := fmt.Fprintf(w, format+"\n", a...)
	return err
}

func replyErr(w io.Writer, log *zerolog.Logger, msg string) {
	log.Warn().Str("error", msg).Msg("request failed")
	reply(w, "%s%s", replyError, msg)
}

func (s *Server) handle(conn net.Conn) {
	log := console.Log()
	br := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(requestTimeout))

	auth, err := readLine(br)
	if err != nil {
		return
	}
	key, ok := strings.CutPrefix(auth, authPrefix)
	if !ok {
		replyErr(conn, log, msgBadAuth)
		return
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.key)) != 1 {
		replyErr(conn, log, msgBadKey)
		return
	}
	line, err := readLine(br)
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})
	verb, arg, _ := strings.Cut(line, " ")
	log.Debug().Str("command", verb).Str("arg", arg).Msg("request")

	switch verb {
	case cmdEndpoint:
		if err := s.session.RegisterEndpoint(arg); err != nil {
			replyErr(conn, log, err.Error())
			return
		}
		reply(conn, replyOK)
	case cmdQueryEndpoint:
		if ep := s.session.Endpoint(); ep != "" {
			reply(conn, "%s %s", replyOK, ep)
		} else {
			reply(conn, replyOK)
		}
	case cmdReload:
		s.handleReload(conn, br)
	case cmdInstall:
		s.handleInstall(conn, br, arg)
	case cmdSaveOutput:
		s.handleSaveOutput(conn, br)
	case cmdQueryOutput:
		data, err := s.session.SavedOutput()
		if err != nil {
			replyErr(conn, log, err.Error())
			return
		}
		if err := reply(conn, "%s %d", replyOK, len(data)); err == nil {
			conn.Write(data)
		}
	default:
		replyErr(conn, log, msgUnknownCmd)
	}
}

// handleReload blocks while another reload is in flight. A client that
// disconnects while queued gives up its place.
func (s *Server) handleReload(conn net.Conn, br *bufio.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		br.ReadByte()
		cancel()
	}()
	gen, err := s.session.RequestReload(ctx)
	if err != nil {
		if ctx.Err() == nil {
			replyErr(conn, console.Log(), err.Error())
		}
		return
	}
	reply(conn, "%s %d", replyGo, gen)
}

func (s *Server) handleInstall(conn net.Conn, br *bufio.Reader, arg string) {
	log := console.Log()
	genStr, pidStr, _ := strings.Cut(arg, " ")
	gen, err1 := strconv.ParseUint(genStr, 10, 64)
	pid, err2 := strconv.Atoi(pidStr)
	if err1 != nil || err2 != nil {
		replyErr(conn, log, fmt.Sprintf("invalid install arguments: %q", arg))
		return
	}
	rc := newRemoteCommand(conn, pid, s.reapOrphan)
	if err := s.session.Install(gen, rc); err != nil {
		replyErr(conn, log, err.Error())
		return
	}
	if err := rc.acknowledge(); err != nil {
		rc.abandon()
		s.session.Exited(rc)
		return
	}
	rc.serve(br)
	s.session.Exited(rc)
}

// reapOrphan stops the process group of a command whose reload client went
// away without reporting its exit. Commands still running when the server
// closes are left to their clients.
func (s *Server) reapOrphan(pid int) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	log := console.Log()
	log.Debug().Int("pid", pid).Msg("reload client gone, terminating its command")
	if err := process.TerminateGroup(pid, s.session.opts.TerminateTimeout); err != nil {
		log.Warn().Err(err).Int("pid", pid).Msg("terminate orphaned command")
	}
}

func (s *Server) handleSaveOutput(conn net.Conn, br *bufio.Reader) {
	log := console.Log()
	sink, err := s.session.OpenSink()
	if err != nil {
		replyErr(conn, log, err.Error())
		return
	}
	defer sink.Abort()
	if err := reply(conn, replyOK); err != nil {
		return
	}
	for {
		n, err := readFrameHeader(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrUnexpectedEOF) {
				replyErr(conn, log, err.Error())
			}
			log.Debug().Int64("bytes", sink.Len()).Msg("output capture aborted")
			return
		}
		if n < 0 {
			break
		}
		if _, err := io.CopyN(sink, br, int64(n)); err != nil {
			log.Debug().Err(err).Msg("output capture aborted")
			return
		}
	}
	if err := sink.Commit(); err != nil {
		replyErr(conn, log, err.Error())
		return
	}
	log.Debug().Int64("bytes", sink.Len()).Msg("output committed")
	reply(conn, replyOK)
}

// remoteCommand is a command owned by a reload client, controlled over the
// connection that installed it.
type remoteCommand struct {
	pid    int
	conn   net.Conn
	orphan func(pid int)

	// ready is closed once the install reply has been written; terminate
	// must not reach the client before it.
	ready         chan struct{}
	readyOnce     sync.Once
	terminateOnce sync.Once
	finishOnce    sync.Once
	done          chan struct{}
	code          int
}

func newRemoteCommand(conn net.Conn, pid int, orphan func(pid int)) *remoteCommand {
	return &remoteCommand{
		pid:    pid,
		conn:   conn,
		orphan: orphan,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// acknowledge writes the install reply and lets terminate requests through.
func (r *remoteCommand) acknowledge() error {
	defer r.readyOnce.Do(func() { close(r.ready) })
	return reply(r.conn, replyOK)
}

// abandon stops the command on the client's behalf and records an unknown
// status.
func (r *remoteCommand) abandon() {
	r.readyOnce.Do(func() { close(r.ready) })
	if r.orphan != nil {
		r.orphan(r.pid)
	}
	r.finish(-1)
}

func (r *remoteCommand) Pid() int {
	return r.pid
}

func (r *remoteCommand) finish(code int) {
	r.finishOnce.Do(func() {
		r.code = code
		close(r.done)
	})
}

// serve reads the client's exit report. A connection dropped before the
// report abandons the command.
func (r *remoteCommand) serve(br *bufio.Reader) {
	for {
		line, err := readLine(br)
		if err != nil {
			console.Log().Debug().Int("pid", r.pid).Msg("control connection closed")
			r.abandon()
			return
		}
		if codeStr, ok := strings.CutPrefix(line, msgExited+" "); ok {
			code, err := strconv.Atoi(codeStr)
			if err != nil {
				code = -1
			}
			r.finish(code)
			return
		}
	}
}

// TerminateAndWait asks the client to stop its child. The client escalates
// to a kill after the same timeout, so the wait here allows twice that.
func (r *remoteCommand) TerminateAndWait(timeout time.Duration) (int, error) {
	select {
	case <-r.done:
		return r.code, nil
	default:
	}
	r.terminateOnce.Do(func() {
		select {
		case <-r.ready:
			reply(r.conn, msgTerminate)
		case <-r.done:
		}
	})
	timer := time.NewTimer(2*timeout + time.Second)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.code, nil
	case <-timer.C:
		r.conn.Close()
		<-r.done
		return r.code, fmt.Errorf("reload client for pid %d did not report exit", r.pid)
	}
}
