package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultSSHPort = 22
	DefaultSSHUser = "root"
)

// SSHDialer opens SSH connections using public key authentication
type SSHDialer struct {
	logger *slog.Logger
}

// NewSSHDialer creates an SSH dialer
func NewSSHDialer(logger *slog.Logger) *SSHDialer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SSHDialer{logger: logger}
}

// Dial connects and authenticates to ep
func (d *SSHDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	cfg, err := d.clientConfig(ep)
	if err != nil {
		return nil, err
	}

	port := ep.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(port))

	netDialer := net.Dialer{Timeout: cfg.Timeout}
	rawConn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(rawConn, addr, cfg)
	if err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}

	return &sshConn{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *SSHDialer) clientConfig(ep Endpoint) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(ep.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", ep.KeyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", ep.KeyFile, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if ep.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(ep.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", ep.KnownHostsFile, err)
		}
	} else {
		d.logger.Warn("host key verification disabled", "server", ep.Server, "host", ep.Host)
	}

	user := ep.User
	if user == "" {
		user = DefaultSSHUser
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         ep.Timeout,
	}, nil
}

// sshConn runs each command in its own session on a shared client
type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Run(command string) (Output, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("new session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	out := Output{}
	err = session.Run(command)

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitStatus = exitErr.ExitStatus()
	case errors.As(err, &missingErr):
		out.ExitStatus = -1
	default:
		return Output{}, fmt.Errorf("run: %w", err)
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	return out, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}
