// Package coord implements the per-session coordination server that
// serializes reloads against the running command and keeps the last
// complete output, together with the client used by nested invocations.
//
// Every connection starts with "secret: <key>" and one command line. Replies
// are single lines; failures are "error: <message>".
package coord

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	cmdEndpoint      = "endpoint"
	cmdQueryEndpoint = "query-endpoint"
	cmdReload        = "reload"
	cmdInstall       = "install"
	cmdSaveOutput    = "save-output"
	cmdQueryOutput   = "query-output"

	replyOK    = "ok"
	replyGo    = "go"
	replyError = "error: "

	msgTerminate = "terminate"
	msgExited    = "exited"
	frameEnd     = "end"

	authPrefix = "secret: "

	// maxFrame bounds one save-output chunk.
	maxFrame = 1 << 20
)

var (
	// ErrNoSession is returned when no coordination session is reachable
	// or the session has been closed.
	ErrNoSession = errors.New("no active session")
	// ErrUnauthorized is returned when the server rejects the api key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStaleGeneration is returned when installing a process for a reload
	// that is no longer pending.
	ErrStaleGeneration = errors.New("stale generation")
)

const (
	msgBadAuth    = "invalid auth format"
	msgBadKey     = "invalid api key"
	msgUnknownCmd = "unknown command"
)

// ServerError carries the message of an "error:" reply.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return "server: " + e.Msg
}

// Is matches the sentinel errors the server reports by message.
func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Msg == msgBadAuth || e.Msg == msgBadKey
	case ErrNoSession:
		return e.Msg == ErrNoSession.Error()
	case ErrStaleGeneration:
		return strings.HasPrefix(e.Msg, ErrStaleGeneration.Error())
	}
	return false
}

// NewAPIKey returns a random key for authenticating session clients.
func NewAPIKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseReply splits a reply into its keyword and argument, turning "error:"
// replies into a *ServerError.
func parseReply(line string) (string, string, error) {
	if msg, ok := strings.CutPrefix(line, replyError); ok {
		return "", "", &ServerError{Msg: msg}
	}
	word, arg, _ := strings.Cut(line, " ")
	return word, arg, nil
}

// writeFrame writes one length-prefixed chunk.
func writeFrame(w io.Writer, p []byte) error {
	if _, err := fmt.Fprintf(w, "%d\n", len(p)); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

// readFrameHeader returns the length of the next chunk, or -1 for the end
// marker.
func readFrameHeader(br *bufio.Reader) (int, error) {
	line, err := readLine(br)
	if err != nil {
		return 0, err
	}
	if line == frameEnd {
		return -1, nil
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 0 || n > maxFrame {
		return 0, fmt.Errorf("invalid length: %q", line)
	}
	return n, nil
}
