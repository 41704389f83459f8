package types

import (
	"fmt"
	"strings"
)

// Buffer protection limits.
const (
	// MaxBufferEntryChars is the hard ceiling for a single buffer entry.
	// Prevents one runaway agent response from blowing out memory.
	MaxBufferEntryChars = 50000

	// DefaultTokenLimit is the per-agent buffer token budget when the
	// game config does not specify one.
	DefaultTokenLimit = 4000
)

// CharacterFacts is a persistent identity record that survives
// compression and carries across sessions.
type CharacterFacts struct {
	Name          string            `json:"name"`
	Traits        []string          `json:"traits,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	NotableEvents []string          `json:"notable_events,omitempty"`
}

// Render formats the facts for inclusion in an agent context.
func (f *CharacterFacts) Render() string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", f.Name)
	if len(f.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(f.Traits, ", "))
	}
	for who, rel := range f.Relationships {
		fmt.Fprintf(&b, "Relationship with %s: %s\n", who, rel)
	}
	if len(f.NotableEvents) > 0 {
		fmt.Fprintf(&b, "Notable events: %s\n", strings.Join(f.NotableEvents, "; "))
	}
	return b.String()
}

// Clone returns a deep copy.
func (f *CharacterFacts) Clone() *CharacterFacts {
	if f == nil {
		return nil
	}
	out := &CharacterFacts{Name: f.Name}
	if f.Traits != nil {
		out.Traits = append([]string(nil), f.Traits...)
	}
	if f.Relationships != nil {
		out.Relationships = make(map[string]string, len(f.Relationships))
		for k, v := range f.Relationships {
			out.Relationships[k] = v
		}
	}
	if f.NotableEvents != nil {
		out.NotableEvents = append([]string(nil), f.NotableEvents...)
	}
	return out
}

// AgentMemory is the two-tier memory record for one agent: a long-term
// summary grown by append-merge and a short-term buffer of recent
// narrative entries, newest last. The buffer is bounded by compression,
// not by a hard cap; compression always removes a prefix and retains a
// suffix, so entries are never reordered.
type AgentMemory struct {
	LongTermSummary string          `json:"long_term_summary,omitempty"`
	ShortTermBuffer []string        `json:"short_term_buffer,omitempty"`
	TokenLimit      int             `json:"token_limit"`
	CharacterFacts  *CharacterFacts `json:"character_facts,omitempty"`
}

// NewAgentMemory creates an empty memory with the given token budget.
// A non-positive limit falls back to DefaultTokenLimit.
func NewAgentMemory(tokenLimit int) *AgentMemory {
	if tokenLimit <= 0 {
		tokenLimit = DefaultTokenLimit
	}
	return &AgentMemory{TokenLimit: tokenLimit}
}

// AddToBuffer validates and appends a narrative entry in place.
//
// This is the mutable convenience path for tests and offline tools.
// Orchestrated turn handlers must operate on a cloned GameState and
// never mutate their input state; see engine.Orchestrator.
func (m *AgentMemory) AddToBuffer(content string) error {
	if strings.TrimSpace(content) == "" {
		return NewError(ErrEmptyContent, "buffer entry content is empty")
	}
	if len(content) > MaxBufferEntryChars {
		return NewError(ErrBufferOverflow,
			fmt.Sprintf("buffer entry of %d chars exceeds ceiling %d", len(content), MaxBufferEntryChars))
	}
	m.ShortTermBuffer = append(m.ShortTermBuffer, content)
	return nil
}

// RecentEntries returns the last n buffer entries in original order.
func (m *AgentMemory) RecentEntries(n int) []string {
	if n <= 0 || len(m.ShortTermBuffer) == 0 {
		return nil
	}
	if n > len(m.ShortTermBuffer) {
		n = len(m.ShortTermBuffer)
	}
	return m.ShortTermBuffer[len(m.ShortTermBuffer)-n:]
}

// EstimateBufferTokens estimates the token count of the buffer alone.
func (m *AgentMemory) EstimateBufferTokens(tok Tokenizer) int {
	total := 0
	for _, e := range m.ShortTermBuffer {
		total += tok.CountTokens(e)
	}
	return total
}

// EstimateTotalTokens estimates summary + buffer + facts together.
func (m *AgentMemory) EstimateTotalTokens(tok Tokenizer) int {
	total := m.EstimateBufferTokens(tok)
	total += tok.CountTokens(m.LongTermSummary)
	if m.CharacterFacts != nil {
		total += tok.CountTokens(m.CharacterFacts.Render())
	}
	return total
}

// Clone returns a deep copy.
func (m *AgentMemory) Clone() *AgentMemory {
	if m == nil {
		return nil
	}
	out := &AgentMemory{
		LongTermSummary: m.LongTermSummary,
		TokenLimit:      m.TokenLimit,
		CharacterFacts:  m.CharacterFacts.Clone(),
	}
	if m.ShortTermBuffer != nil {
		out.ShortTermBuffer = append([]string(nil), m.ShortTermBuffer...)
	}
	return out
}
