package probe

import (
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Probe is a strategy that determines whether a managed service is
// reachable. Implementations may hit an HTTP endpoint, dial a TCP port, or
// run a custom command. It must be safe for concurrent use.
type Probe interface {
	// Alive returns true if the service is detected as reachable.
	Alive() (bool, error)
	// Describe returns a human-readable description of the probe method.
	Describe() string
}

// HTTPProbe performs a GET against URL. Any response with a status below 500
// counts as reachable: an auth rejection still proves the service is up.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
}

func (p HTTPProbe) Alive() (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(p.URL)
	if err != nil {
		return false, nil //nolint:nilerr // unreachable is a result, not a probe error
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500, nil
}

func (p HTTPProbe) Describe() string { return fmt.Sprintf("http:%s", p.URL) }

// TCPProbe dials Addr ("host:port").
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProbe) Alive() (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", p.Addr, timeout)
	if err != nil {
		return false, nil //nolint:nilerr
	}
	_ = conn.Close()
	return true, nil
}

func (p TCPProbe) Describe() string { return fmt.Sprintf("tcp:%s", p.Addr) }

// CommandProbe runs a shell command; exit 0 means reachable.
type CommandProbe struct {
	Command string
}

func (p CommandProbe) Alive() (bool, error) {
	cmd := strings.TrimSpace(p.Command)
	if cmd == "" {
		return false, fmt.Errorf("command probe: empty command")
	}
	// #nosec G204 -- probe commands come from operator config
	err := exec.Command("/bin/sh", "-c", cmd).Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p CommandProbe) Describe() string { return fmt.Sprintf("command:%s", p.Command) }
