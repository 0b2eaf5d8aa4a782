// File: internal/auth/providers.go
package auth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// StaticProvider serves fixed values per tag. Useful when the target issues
// long-lived keys, and in tests.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticProvider returns a provider seeded with values.
func NewStaticProvider(values map[string]string) *StaticProvider {
	p := &StaticProvider{values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// Set replaces the value for tag.
func (p *StaticProvider) Set(tag, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[tag] = value
}

func (p *StaticProvider) Refresh(_ context.Context, tag string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[tag]
	if !ok {
		return "", fmt.Errorf("no static value for tag %q", tag)
	}
	return v, nil
}

// CommandProvider runs an external command per tag and parses a token from its stdout.
// The output format is the one token scripts conventionally emit: optional metadata
// lines followed by a "Header: value" line.
type CommandProvider struct {
	commands map[string][]string
	logger   *zap.Logger
}

// NewCommandProvider maps each tag to an argv.
func NewCommandProvider(commands map[string][]string, logger *zap.Logger) (*CommandProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cmds := make(map[string][]string, len(commands))
	for tag, argv := range commands {
		if len(argv) == 0 {
			return nil, fmt.Errorf("empty command for tag %q", tag)
		}
		cmds[tag] = append([]string(nil), argv...)
	}
	return &CommandProvider{commands: cmds, logger: logger.Named("command_provider")}, nil
}

func (p *CommandProvider) Refresh(ctx context.Context, tag string) (string, error) {
	_, value, err := p.RefreshCredential(ctx, tag)
	return value, err
}

// RefreshCredential runs the command for tag and returns the header name and
// value of its token line.
func (p *CommandProvider) RefreshCredential(ctx context.Context, tag string) (string, string, error) {
	argv, ok := p.commands[tag]
	if !ok {
		return "", "", fmt.Errorf("no token command for tag %q", tag)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.logger.Warn("Token command failed",
			zap.String("tag", tag),
			zap.Strings("argv", argv),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return "", "", fmt.Errorf("token command for tag %q: %w", tag, err)
	}

	header, value, err := ParseTokenOutput(stdout.String())
	if err != nil {
		return "", "", fmt.Errorf("token command for tag %q: %w", tag, err)
	}
	return header, value, nil
}

// ErrNoTokenLine is returned when command output holds no "Header: value" line.
var ErrNoTokenLine = errors.New("no token line in output")

// ParseTokenOutput returns the first "Header: value" line of out. Blank lines and
// metadata lines (starting with '{' or '#') are skipped.
func ParseTokenOutput(out string) (header, value string, err error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "{") || strings.HasPrefix(line, "#") {
			continue
		}
		h, v, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		h, v = strings.TrimSpace(h), strings.TrimSpace(v)
		if h == "" || v == "" || strings.ContainsAny(h, " \t") {
			continue
		}
		return h, v, nil
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	return "", "", ErrNoTokenLine
}
