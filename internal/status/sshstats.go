package status

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// InterfaceStats are per-interface counters read from a running node.
type InterfaceStats struct {
	Name      string `json:"name"`
	Up        bool   `json:"up"`
	RxBytes   uint64 `json:"rxBytes"`
	TxBytes   uint64 `json:"txBytes"`
	RxPackets uint64 `json:"rxPackets"`
	TxPackets uint64 `json:"txPackets"`
}

// SSHCollector reads interface counters from nodes over SSH. Lab nodes
// are disposable, so host keys are not verified.
type SSHCollector struct {
	user     string
	password string
	keyPath  string
	timeout  time.Duration
}

// NewSSHCollector creates a collector. Either password or keyPath must be
// set; when both are, the key wins.
func NewSSHCollector(user, password, keyPath string, timeout time.Duration) *SSHCollector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SSHCollector{user: user, password: password, keyPath: keyPath, timeout: timeout}
}

// Collect connects to addr (host or host:port, port 22 by default) and
// returns counters for every non-loopback interface.
func (c *SSHCollector) Collect(ctx context.Context, addr string) ([]InterfaceStats, error) {
	client, err := c.connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	out, err := session.Output("cat /proc/net/dev")
	if err != nil {
		return nil, fmt.Errorf("read interface counters: %w", err)
	}
	return parseNetDev(string(out)), nil
}

func (c *SSHCollector) connect(ctx context.Context, addr string) (*ssh.Client, error) {
	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *SSHCollector) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if c.keyPath != "" {
		key, err := os.ReadFile(c.keyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if c.password != "" {
		methods = append(methods, ssh.Password(c.password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh collector has no credentials")
	}
	return &ssh.ClientConfig{
		User:            c.user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.timeout,
	}, nil
}

// parseNetDev parses /proc/net/dev output. Unparseable lines are skipped.
func parseNetDev(out string) []InterfaceStats {
	stats := []InterfaceStats{}
	for _, line := range strings.Split(out, "\n") {
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 10 {
			continue
		}
		rxBytes, err1 := strconv.ParseUint(fields[0], 10, 64)
		rxPackets, err2 := strconv.ParseUint(fields[1], 10, 64)
		txBytes, err3 := strconv.ParseUint(fields[8], 10, 64)
		txPackets, err4 := strconv.ParseUint(fields[9], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		stats = append(stats, InterfaceStats{
			Name:      name,
			Up:        rxPackets > 0 || txPackets > 0,
			RxBytes:   rxBytes,
			TxBytes:   txBytes,
			RxPackets: rxPackets,
			TxPackets: txPackets,
		})
	}
	return stats
}
