package domain

import (
	"context"
	"fmt"
	"strings"
)

// Capability is a tool the agent runner is allowed to use during a call.
type Capability string

const (
	CapRead      Capability = "Read"
	CapWrite     Capability = "Write"
	CapEdit      Capability = "Edit"
	CapBash      Capability = "Bash"
	CapGlob      Capability = "Glob"
	CapGrep      Capability = "Grep"
	CapWebFetch  Capability = "WebFetch"
	CapWebSearch Capability = "WebSearch"
	CapTask      Capability = "Task"
	CapTodoWrite Capability = "TodoWrite"
)

var knownCapabilities = map[string]Capability{
	"read":      CapRead,
	"write":     CapWrite,
	"edit":      CapEdit,
	"bash":      CapBash,
	"glob":      CapGlob,
	"grep":      CapGrep,
	"webfetch":  CapWebFetch,
	"websearch": CapWebSearch,
	"task":      CapTask,
	"todowrite": CapTodoWrite,
}

// ParseCapabilities maps names (case-insensitive) to capabilities.
// An unknown name fails with ErrUnsupportedCapability.
func ParseCapabilities(names []string) ([]Capability, error) {
	caps := make([]Capability, 0, len(names))
	seen := make(map[Capability]bool, len(names))
	for _, n := range names {
		c, ok := knownCapabilities[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCapability, n)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	return caps, nil
}

// StreamElementKind discriminates StreamElement.
type StreamElementKind int

const (
	ElementToolStarted StreamElementKind = iota + 1
	ElementText
	ElementSessionHandle
	ElementError
)

func (k StreamElementKind) String() string {
	switch k {
	case ElementToolStarted:
		return "tool_started"
	case ElementText:
		return "text"
	case ElementSessionHandle:
		return "session_handle"
	case ElementError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamElement is one item of an agent runner stream.
// ElementError is terminal: the producer closes the channel after sending it.
type StreamElement struct {
	Kind    StreamElementKind
	Tool    string        // ElementToolStarted
	Text    string        // ElementText
	Session SessionHandle // ElementSessionHandle
	Err     error         // ElementError
}

// AgentRequest is a single agent invocation.
type AgentRequest struct {
	Prompt        string
	SessionHandle SessionHandle // empty starts a fresh session
	WorkingDir    string
	Capabilities  []Capability
}

// AgentRunner is the external reasoning agent. Invoke returns a finite,
// non-restartable stream that is closed when the call completes.
type AgentRunner interface {
	Invoke(ctx context.Context, req AgentRequest) (<-chan StreamElement, error)
	Name() string
}
