package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH runs commands on a remote host over an ssh session per command.
type SSH struct {
	Addr           string
	User           string
	KeyFile        string
	KnownHostsFile string
	Timeout        time.Duration
}

func (s *SSH) Name() string { return "ssh" }

// Exec dials the host, runs the command in one session, and reports the
// remote exit status. Environment variables are passed as assignments in
// front of the command since sshd normally refuses Setenv requests.
func (s *SSH) Exec(ctx context.Context, spec Spec) (int, error) {
	if spec.Command == "" {
		return 0, fmt.Errorf("executor: empty command")
	}
	client, err := s.dial()
	if err != nil {
		return 1, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return 1, fmt.Errorf("executor: ssh session: %w", err)
	}
	defer session.Close()

	session.Stdout = spec.stdout()
	session.Stderr = spec.stderr()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(remoteCommand(spec))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		<-done
		return KillExitCode, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 1, fmt.Errorf("executor: ssh run: %w", err)
	}
}

func remoteCommand(spec Spec) string {
	var b strings.Builder
	if dir := strings.TrimSpace(spec.WorkingDir); dir != "" {
		b.WriteString("cd " + shellEscape(dir) + " && ")
	}
	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString(key + "=" + shellEscape(spec.Env[key]) + " ")
	}
	b.WriteString(spec.shell() + " -c " + shellEscape(spec.Command))
	return b.String()
}

func (s *SSH) dial() (*ssh.Client, error) {
	address, err := s.address()
	if err != nil {
		return nil, err
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	if s.Timeout <= 0 {
		client, err := ssh.Dial("tcp", address, config)
		if err != nil {
			return nil, fmt.Errorf("executor: ssh dial %s: %w", address, err)
		}
		return client, nil
	}
	conn, err := net.DialTimeout("tcp", address, s.Timeout)
	if err != nil {
		return nil, fmt.Errorf("executor: ssh dial %s: %w", address, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("executor: ssh handshake %s: %w", address, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (s *SSH) address() (string, error) {
	host := strings.TrimSpace(s.Addr)
	if host == "" {
		return "", fmt.Errorf("executor: ssh addr is required")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	if strings.TrimSpace(s.User) == "" {
		return nil, fmt.Errorf("executor: ssh user is required")
	}
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}
	callback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         s.Timeout,
	}, nil
}

func (s *SSH) signer() (ssh.Signer, error) {
	if strings.TrimSpace(s.KeyFile) == "" {
		return nil, fmt.Errorf("executor: ssh key file is required")
	}
	privateKey, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("executor: read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("executor: parse ssh key: %w", err)
	}
	return signer, nil
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(s.KnownHostsFile)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("executor: known_hosts not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("executor: load known_hosts: %w", err)
	}
	return callback, nil
}
