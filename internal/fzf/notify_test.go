package fzf

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("port:6266")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Network: "tcp", Address: "127.0.0.1:6266"}, ep)

	ep, err = ParseEndpoint("unix:/tmp/fzf.sock")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Network: "unix", Address: "/tmp/fzf.sock"}, ep)

	for _, bad := range []string{"", "port:", "port:x", "port:70000", "pipe:/x", "6266"} {
		_, err := ParseEndpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestEndpointFromEnv(t *testing.T) {
	env := map[string]string{PortEnv: "1234"}
	desc, err := EndpointFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "port:1234", desc)

	env[SockEnv] = "/run/fzf.sock"
	desc, err = EndpointFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "unix:/run/fzf.sock", desc)

	_, err = EndpointFromEnv(func(string) string { return "" })
	require.Error(t, err)
	assert.Contains(t, err.Error(), PortEnv)
}

type recorder struct {
	actions chan string
	keys    chan string
}

func newRecorder() *recorder {
	return &recorder{actions: make(chan string, 4), keys: make(chan string, 4)}
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.keys <- r.Header.Get("X-Api-Key")
	if r.Header.Get("X-Api-Key") != "secret" {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	rec.actions <- string(body)
}

func TestNotifierTCP(t *testing.T) {
	rec := newRecorder()
	srv := httptest.NewServer(rec)
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	ep, err := ParseEndpoint("port:" + strconv.Itoa(port))
	require.NoError(t, err)
	n := NewNotifier(ep, "secret")
	require.NoError(t, n.Reload(context.Background(), "tuick --reload -- make"))
	assert.Equal(t, "secret", <-rec.keys)
	assert.Equal(t, "reload(tuick --reload -- make)", <-rec.actions)

	require.NoError(t, n.ChangeHeader(context.Background(), "make Running..."))
	assert.Equal(t, "secret", <-rec.keys)
	assert.Equal(t, "change-header(make Running...)", <-rec.actions)

	bad := NewNotifier(ep, "wrong")
	err = bad.Post(context.Background(), "first")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestNotifierUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "fzf.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	rec := newRecorder()
	srv := &http.Server{Handler: rec}
	go srv.Serve(ln)
	defer srv.Close()

	ep, err := ParseEndpoint("unix:" + sock)
	require.NoError(t, err)
	require.NoError(t, NewNotifier(ep, "secret").ChangeHeader(context.Background(), "make"))
	<-rec.keys
	assert.Equal(t, "change-header(make)", <-rec.actions)
}

func TestNotifierUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ep, err := ParseEndpoint("port:" + strconv.Itoa(port))
	require.NoError(t, err)
	assert.Error(t, NewNotifier(ep, "").Post(context.Background(), "abort"))
}
