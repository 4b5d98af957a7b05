// Package agent adapts external agent CLIs to domain.AgentRunner.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"vigil/internal/domain"
)

// maxLineSize bounds a single stream-json line. Tool results can be large.
const maxLineSize = 16 << 20

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	Name         string
	Command      string
	Args         []string
	Model        string
	WorkingDir   string
	Capabilities []domain.Capability
	// Env is appended to the parent environment.
	Env []string
}

// ProcessRunner runs one CLI process per invocation and translates its
// stream-json stdout into StreamElements.
type ProcessRunner struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

var _ domain.AgentRunner = (*ProcessRunner)(nil)

// NewProcessRunner creates a ProcessRunner.
func NewProcessRunner(cfg ProcessConfig, logger *slog.Logger) *ProcessRunner {
	if cfg.Name == "" {
		cfg.Name = cfg.Command
	}
	return &ProcessRunner{cfg: cfg, logger: logger}
}

func (r *ProcessRunner) Name() string { return r.cfg.Name }

// Invoke starts the CLI. The returned channel is closed when the process
// exits; a failure is delivered as a final ElementError.
func (r *ProcessRunner) Invoke(ctx context.Context, req domain.AgentRequest) (<-chan domain.StreamElement, error) {
	args := r.buildArgs(req)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = req.WorkingDir
	if cmd.Dir == "" {
		cmd.Dir = r.cfg.WorkingDir
	}
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}
	// User text goes on stdin, never argv, so it cannot parse as a flag.
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, invocationErr("stdout pipe", err)
	}
	stderr := newStderrTail(stderrBufferSize)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, invocationErr("start "+r.cfg.Command, err)
	}
	r.logger.Debug("agent process started",
		"runner", r.cfg.Name, "pid", cmd.Process.Pid, "resume", req.SessionHandle != "")

	ch := make(chan domain.StreamElement, 16)
	go func() {
		defer close(ch)

		send := func(el domain.StreamElement) bool {
			select {
			case ch <- el:
				return true
			case <-ctx.Done():
				return false
			}
		}

		streamErr := r.consume(stdout, send)
		if streamErr != nil {
			// Stop reading; make sure the process does not linger.
			cmd.Process.Kill()
			io.Copy(io.Discard, stdout)
		}
		waitErr := cmd.Wait()

		switch {
		case streamErr != nil:
			send(domain.StreamElement{Kind: domain.ElementError, Err: streamErr})
		case waitErr != nil:
			send(domain.StreamElement{Kind: domain.ElementError,
				Err: invocationErr(r.cfg.Command+" exited", fmt.Errorf("%v: %s", waitErr, tail(stderr.String(), 500)))})
		}
	}()
	return ch, nil
}

// buildArgs returns the CLI arguments. The prompt is not among them; Invoke
// writes it to stdin.
func (r *ProcessRunner) buildArgs(req domain.AgentRequest) []string {
	args := make([]string, len(r.cfg.Args), len(r.cfg.Args)+8)
	copy(args, r.cfg.Args)

	if req.SessionHandle != "" {
		args = append(args, "--resume", string(req.SessionHandle))
	}
	caps := req.Capabilities
	if len(caps) == 0 {
		caps = r.cfg.Capabilities
	}
	if len(caps) > 0 {
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = string(c)
		}
		args = append(args, "--allowedTools", strings.Join(names, ","))
	}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	return args
}

// consume reads stdout line by line until EOF. It returns a non-nil error
// for the first malformed or error line.
func (r *ProcessRunner) consume(stdout io.Reader, send func(domain.StreamElement) bool) error {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var p lineParser
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		els, err := p.parse(line)
		if err != nil {
			return err
		}
		for _, el := range els {
			if !send(el) {
				return nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return invocationErr("read stream", err)
	}
	return nil
}

// streamEvent is the subset of the stream-json schema the runner reads.
type streamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Message   *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
}

// lineParser carries the little state needed across lines: the last
// session id emitted and whether any text has been seen.
type lineParser struct {
	session domain.SessionHandle
	sawText bool
}

func (p *lineParser) parse(line []byte) ([]domain.StreamElement, error) {
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, invocationErr("malformed stream element", fmt.Errorf("%v: %s", err, tail(string(line), 200)))
	}
	if ev.Type == "" {
		return nil, invocationErr("malformed stream element", fmt.Errorf("missing type: %s", tail(string(line), 200)))
	}

	var out []domain.StreamElement
	if h := domain.SessionHandle(ev.SessionID); h != "" && h != p.session {
		p.session = h
		out = append(out, domain.StreamElement{Kind: domain.ElementSessionHandle, Session: h})
	}

	switch ev.Type {
	case "assistant":
		if ev.Message == nil {
			break
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					p.sawText = true
					out = append(out, domain.StreamElement{Kind: domain.ElementText, Text: block.Text})
				}
			case "tool_use":
				out = append(out, domain.StreamElement{Kind: domain.ElementToolStarted, Tool: block.Name})
			}
		}
	case "result":
		if ev.IsError {
			return out, invocationErr("agent reported error", fmt.Errorf("%s: %s", ev.Subtype, tail(ev.Result, 500)))
		}
		// The result repeats the final text; use it only when nothing streamed.
		if !p.sawText && ev.Result != "" {
			p.sawText = true
			out = append(out, domain.StreamElement{Kind: domain.ElementText, Text: ev.Result})
		}
	}
	return out, nil
}

func invocationErr(what string, err error) error {
	return domain.WrapOp("agent.invoke", fmt.Errorf("%w: %s: %v", domain.ErrAgentInvocation, what, err))
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n:])
}
