package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes the remote execution channel.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	KnownHostsFile string
	DialTimeout    time.Duration
}

// SSHTransport runs commands over a fresh SSH connection per call.
type SSHTransport struct {
	addr   string
	config *ssh.ClientConfig
}

// NewSSHTransport loads the private key and known_hosts file. Host key
// verification is always enforced.
func NewSSHTransport(cfg SSHConfig) (*SSHTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh: host is empty")
	}
	if cfg.User == "" {
		return nil, errors.New("ssh: user is empty")
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("ssh: known_hosts_file is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	keyBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("ssh: read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ssh: parse key file: %w", err)
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("ssh: load known hosts: %w", err)
	}

	return &SSHTransport{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Addr returns host:port.
func (t *SSHTransport) Addr() string { return t.addr }

// Exec implements Transport.
func (t *SSHTransport) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	client, stop, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(command); err != nil {
		return fmt.Errorf("ssh: start: %w", err)
	}
	// from here cancellation signals the session instead of dropping the link
	if !stop() {
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		_ = client.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitStatus()}
		}
		return fmt.Errorf("ssh: wait: %w", err)
	}
}

// dial connects and completes the SSH handshake. Until the returned stop func
// is called, the connection is closed as soon as ctx ends, so a host that
// accepts TCP but never speaks SSH cannot block past the deadline.
func (t *SSHTransport) dial(ctx context.Context) (*ssh.Client, func() bool, error) {
	d := net.Dialer{Timeout: t.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh: dial %s: %w", t.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	if t.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.config)
	if err != nil {
		stop()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, nil, fmt.Errorf("ssh: handshake %s: %w", t.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), stop, nil
}
