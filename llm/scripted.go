package llm

import (
	"context"
	"sync"

	"github.com/BaSui01/questflow/types"
)

// ScriptedProvider replays a fixed sequence of replies and/or errors.
// Used by tests and by offline "demo" sessions where no real provider is
// configured. Safe for concurrent use.
type ScriptedProvider struct {
	name    string
	replies []ScriptedReply
	next    int
	// LoopReplies wraps around instead of failing when the script is
	// exhausted.
	LoopReplies bool
	mu          sync.Mutex
}

// ScriptedReply is one scripted step: a reply text or an error.
type ScriptedReply struct {
	Text string
	Err  error
}

// NewScriptedProvider creates a provider that answers with the given
// replies in order.
func NewScriptedProvider(name string, replies ...ScriptedReply) *ScriptedProvider {
	return &ScriptedProvider{name: name, replies: replies}
}

// Reply is shorthand for a successful scripted step.
func Reply(text string) ScriptedReply { return ScriptedReply{Text: text} }

// Fail is shorthand for a failing scripted step.
func Fail(err error) ScriptedReply { return ScriptedReply{Err: err} }

func (p *ScriptedProvider) Name() string { return p.name }

// Completion returns the next scripted step.
func (p *ScriptedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrUpstreamTimeout, "context cancelled").
			WithCause(err).WithRetryable(true).WithProvider(p.name)
	}

	p.mu.Lock()
	if p.next >= len(p.replies) {
		if !p.LoopReplies || len(p.replies) == 0 {
			p.mu.Unlock()
			return nil, types.NewError(types.ErrUpstreamError, "scripted provider exhausted").
				WithProvider(p.name)
		}
		p.next = 0
	}
	step := p.replies[p.next]
	p.next++
	p.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return &ChatResponse{
		Provider: p.name,
		Model:    req.Model,
		Choices:  []ChatChoice{{Message: Message{Role: RoleAssistant, Content: step.Text}}},
	}, nil
}

// Calls reports how many completions have been served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
