package fzf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Endpoint is where a running fzf accepts actions.
type Endpoint struct {
	// Network is "tcp" or "unix".
	Network string
	Address string
}

// EndpointFromEnv describes the endpoint of the fzf that runs the current
// process, from FZF_SOCK or FZF_PORT.
func EndpointFromEnv(getenv func(string) string) (string, error) {
	if sock := getenv(SockEnv); sock != "" {
		return "unix:" + sock, nil
	}
	if port := getenv(PortEnv); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return "", fmt.Errorf("invalid %s: %q", PortEnv, port)
		}
		return "port:" + port, nil
	}
	return "", fmt.Errorf("missing environment variable: %s", PortEnv)
}

// ParseEndpoint reads a "port:N" or "unix:/path" descriptor.
func ParseEndpoint(desc string) (Endpoint, error) {
	kind, value, ok := strings.Cut(desc, ":")
	if !ok || value == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q", desc)
	}
	switch kind {
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("invalid endpoint port %q", value)
		}
		return Endpoint{Network: "tcp", Address: net.JoinHostPort("127.0.0.1", value)}, nil
	case "unix":
		return Endpoint{Network: "unix", Address: value}, nil
	}
	return Endpoint{}, fmt.Errorf("invalid endpoint %q", desc)
}

// Notifier posts actions to a listening fzf.
type Notifier struct {
	endpoint Endpoint
	key      string
	client   *http.Client
}

// NewNotifier returns a notifier for the endpoint, authenticating with key
// when it is not empty.
func NewNotifier(endpoint Endpoint, key string) *Notifier {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, endpoint.Network, endpoint.Address)
		},
		DisableKeepAlives: true,
	}
	return &Notifier{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

// Post sends one action, such as "reload(cmd)".
func (n *Notifier) Post(ctx context.Context, action string) error {
	host := "localhost"
	if n.endpoint.Network == "tcp" {
		host = n.endpoint.Address
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+host, strings.NewReader(action))
	if err != nil {
		return err
	}
	if n.key != "" {
		req.Header.Set("X-Api-Key", n.key)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to fzf: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return errors.New("fzf rejected action: " + msg)
	}
	return nil
}

// Reload asks fzf to run command and replace its list.
func (n *Notifier) Reload(ctx context.Context, command string) error {
	return n.Post(ctx, "reload("+command+")")
}

// ChangeHeader replaces the header line.
func (n *Notifier) ChangeHeader(ctx context.Context, header string) error {
	return n.Post(ctx, "change-header("+header+")")
}
