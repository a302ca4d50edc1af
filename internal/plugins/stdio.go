package plugins

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/storyforge/weft/pkg/schema"
)

// StdioConfig describes how to launch and identify an external plugin
// subprocess speaking line-delimited JSON-RPC over stdio.
type StdioConfig struct {
	ID      string
	Command string
	Args    []string
	Env     []string
}

const (
	handshakeTimeout = 10 * time.Second
	callTimeout      = 30 * time.Second
)

// StdioPlugin hosts one external plugin subprocess. Requests are
// serialized: the stdio protocol has no message correlation, so one
// round-trip at a time.
type StdioPlugin struct {
	config  StdioConfig
	logger  *slog.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	cancel  context.CancelFunc
	actions []Action

	reqMu  sync.Mutex // serializes JSON-RPC round-trips
	nextID int64
}

// StartStdioPlugin launches the subprocess, performs the handshake, and
// discovers its actions.
func StartStdioPlugin(ctx context.Context, config StdioConfig, logger *slog.Logger) (*StdioPlugin, error) {
	procCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(procCtx, config.Command, config.Args...)
	cmd.Env = config.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start plugin %q: %w", config.ID, err)
	}

	p := &StdioPlugin{
		config: config,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		cancel: cancel,
		nextID: 1,
	}

	if _, err := p.roundTrip("initialize", map[string]any{
		"protocolVersion": "1",
		"clientInfo":      map[string]any{"name": "weft"},
	}, handshakeTimeout); err != nil {
		cancel()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("handshake with plugin %q: %w", config.ID, err)
	}

	if err := p.discoverActions(); err != nil {
		cancel()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("discover actions of plugin %q: %w", config.ID, err)
	}

	logger.Info("plugin started",
		slog.String("plugin_id", config.ID),
		slog.Int("actions", len(p.actions)),
	)
	return p, nil
}

func (p *StdioPlugin) ID() string        { return p.config.ID }
func (p *StdioPlugin) Actions() []Action { return p.actions }

// Stop closes stdin to signal shutdown and waits briefly before killing.
func (p *StdioPlugin) Stop() error {
	p.cancel()
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
	}

	p.logger.Info("plugin stopped", slog.String("plugin_id", p.config.ID))
	return nil
}

// discoverActions sends actions/list and wraps each advertised action.
func (p *StdioPlugin) discoverActions() error {
	result, err := p.roundTrip("actions/list", map[string]any{}, handshakeTimeout)
	if err != nil {
		return err
	}

	raw, ok := result["actions"].([]any)
	if !ok {
		return nil // plugin advertises no actions
	}

	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		p.actions = append(p.actions, &stdioAction{plugin: p, name: name, desc: desc})
	}
	return nil
}

// roundTrip writes one request line and reads one response line.
func (p *StdioPlugin) roundTrip(method string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	id := p.nextID
	p.nextID++

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}
	data = append(data, '\n')
	if _, err := p.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	type lineResult struct {
		line []byte
		err  error
	}
	done := make(chan lineResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		done <- lineResult{line, err}
	}()

	var line []byte
	select {
	case lr := <-done:
		if lr.err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, lr.err)
		}
		line = lr.line
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s timeout after %s", method, timeout)
	}

	var resp struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("plugin error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// stdioAction proxies one discovered action over the subprocess channel.
type stdioAction struct {
	plugin *StdioPlugin
	name   string
	desc   string
}

func (a *stdioAction) Name() string        { return a.name }
func (a *stdioAction) Description() string { return a.desc }

func (a *stdioAction) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	result, err := a.plugin.roundTrip("actions/call", map[string]any{
		"name":   a.name,
		"config": config,
	}, callTimeout)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDispatch, "%s", err.Error()).WithCause(err)
	}
	return result, nil
}
