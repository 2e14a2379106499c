// Package tunnel exposes the backend through a third-party tunnel CLI and
// reports the public URL it announces.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultURLTimeout bounds the wait for the provider to announce its URL.
const DefaultURLTimeout = 20 * time.Second

// Result is a running tunnel.
type Result struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// Starter starts a tunnel to a local port. A nil Result with a nil error
// means tunnelling is disabled.
type Starter interface {
	Start(ctx context.Context, port int) (*Result, error)
	Close() error
}

// Disabled never starts anything.
type Disabled struct{}

func (Disabled) Start(context.Context, int) (*Result, error) { return nil, nil }
func (Disabled) Close() error                                { return nil }

// Enabled reports whether mode asks for a tunnel. Desktop mode always
// disables it.
func Enabled(mode string, desktop bool) bool {
	if desktop {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "false", "0", "no":
		return false
	}
	return true
}

// FromMode picks the provider for mode. Unknown modes fall back to
// localtunnel.
func FromMode(mode string, desktop bool, logger *zap.Logger) Starter {
	if !Enabled(mode, desktop) {
		return Disabled{}
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "cloudflared", "cloudflare", "cf":
		return Cloudflared(logger)
	case "ngrok":
		return Ngrok(logger)
	default:
		return Localtunnel(logger)
	}
}

// Cloudflared runs a quick tunnel through cloudflared.
func Cloudflared(logger *zap.Logger) *CommandProvider {
	return &CommandProvider{
		Name:    "cloudflared",
		Command: "cloudflared",
		Args: func(port int) []string {
			return []string{"tunnel", "--url", "http://localhost:" + strconv.Itoa(port)}
		},
		Pattern: regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`),
		Logger:  logger,
	}
}

// Ngrok runs an HTTP tunnel through ngrok with stdout logging.
func Ngrok(logger *zap.Logger) *CommandProvider {
	return &CommandProvider{
		Name:    "ngrok",
		Command: "ngrok",
		Args: func(port int) []string {
			return []string{"http", strconv.Itoa(port), "--log", "stdout", "--log-format", "logfmt"}
		},
		Pattern: regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.ngrok(-free)?\.(app|io|dev)`),
		Logger:  logger,
	}
}

// Localtunnel runs the localtunnel CLI.
func Localtunnel(logger *zap.Logger) *CommandProvider {
	return &CommandProvider{
		Name:    "localtunnel",
		Command: "lt",
		Args: func(port int) []string {
			return []string{"--port", strconv.Itoa(port)}
		},
		Pattern: regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.loca\.lt`),
		Logger:  logger,
	}
}

// CommandProvider spawns a tunnel CLI and scans its output for the first
// match of Pattern. The process keeps running until Close.
type CommandProvider struct {
	Name    string
	Command string
	Args    func(port int) []string
	Env     []string
	Pattern *regexp.Regexp
	Timeout time.Duration
	Logger  *zap.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// Start launches the CLI and waits for its public URL.
func (p *CommandProvider) Start(ctx context.Context, port int) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil, fmt.Errorf("%s tunnel already started", p.Name)
	}

	cmd := exec.Command(p.Command, p.Args(port)...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Name, err)
	}

	found := make(chan string, 1)
	var scanners sync.WaitGroup
	scanners.Add(2)
	go p.scan(stdout, found, &scanners)
	go p.scan(stderr, found, &scanners)
	done := make(chan struct{})
	go func() {
		scanners.Wait()
		_ = cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.timeout())
	defer timer.Stop()
	var failure error
	select {
	case url := <-found:
		p.cmd = cmd
		p.done = done
		p.logger().Info("tunnel active", zap.String("provider", p.Name), zap.String("url", url))
		return &Result{Provider: p.Name, URL: url}, nil
	case <-done:
		failure = fmt.Errorf("%s exited before announcing a url", p.Name)
	case <-timer.C:
		failure = fmt.Errorf("%s did not announce a url within %s", p.Name, p.timeout())
	case <-ctx.Done():
		failure = ctx.Err()
	}
	_ = cmd.Process.Kill()
	<-done
	return nil, failure
}

func (p *CommandProvider) scan(r io.Reader, found chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger().Debug("tunnel output", zap.String("provider", p.Name), zap.String("line", line))
		if url := p.Pattern.FindString(line); url != "" {
			select {
			case found <- url:
			default:
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// Close stops the tunnel process.
func (p *CommandProvider) Close() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd = nil
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-done
	return nil
}

func (p *CommandProvider) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultURLTimeout
}

func (p *CommandProvider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
