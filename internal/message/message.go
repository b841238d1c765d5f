// Package message defines the conversation data model shared by every
// pipeline stage: windowing, classification, cache annotation, and
// forwarding all read and rewrite the same Message sequence.
package message

import "encoding/json"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is one element of a block-structured message body, e.g.
// {"type":"text","text":"..."} or a provider-specific opaque block.
type ContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Extra map[string]any `json:"-"`
}

// Content is message body, which upstream wire formats represent either as
// a plain string or as an ordered sequence of content blocks. Exactly one
// of the two forms is populated.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// IsBlocks reports whether this content uses the block form.
func (c Content) IsBlocks() bool { return c.Blocks != nil }

// NewTextContent builds plain string content.
func NewTextContent(text string) Content { return Content{Text: text} }

// CacheControl marks a message as an upstream prompt-cache boundary.
type CacheControl struct {
	Type string `json:"type"` // always "ephemeral" in this system
}

// Message is an immutable conversation turn. Pipeline stages never mutate a
// Message in place; they produce new Message values via With* helpers.
type Message struct {
	Role         Role
	Content      Content
	ToolCalls    []json.RawMessage
	CacheControl *CacheControl
}

// HasToolCalls reports whether this message carries one or more tool calls.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// WithCacheControl returns a copy of m with CacheControl set. The receiver
// is never mutated.
func (m Message) WithCacheControl(cc *CacheControl) Message {
	m.CacheControl = cc
	return m
}

// WithContent returns a copy of m with Content replaced.
func (m Message) WithContent(c Content) Message {
	m.Content = c
	return m
}

// Text extracts the flattened text of a message: the plain-string form
// verbatim, or block text fields concatenated with newlines for the block
// form. Non-text blocks contribute nothing to the extracted text.
func (m Message) Text() string {
	return ExtractText(m.Content)
}

// ExtractText flattens Content into plain text, concatenating block text
// fields with newlines when Content uses the block form.
func ExtractText(c Content) string {
	if !c.IsBlocks() {
		return c.Text
	}
	out := ""
	for i, b := range c.Blocks {
		if b.Text == "" {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// ContentSize approximates the size of a message's content for threshold
// comparisons: string length for plain text, sum of block text lengths for
// the block form plus the marshaled size of any non-text block data.
func ContentSize(c Content) int {
	if !c.IsBlocks() {
		return len(c.Text)
	}
	n := 0
	for _, b := range c.Blocks {
		if b.Text != "" {
			n += len(b.Text)
			continue
		}
		if raw, err := json.Marshal(b.Extra); err == nil {
			n += len(raw)
		}
	}
	return n
}

// Clone returns a deep-enough copy of a message slice so callers can build
// a new conversation without aliasing the input's backing array.
func Clone(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
