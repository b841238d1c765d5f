package sidecar

import (
	"encoding/json"
	"fmt"

	"github.com/evansantos/slimclaw/internal/message"
)

// wireMessage is the OpenAI-compatible on-the-wire shape of one
// conversation turn: content is either a bare string or an array of
// typed blocks, and cache_control (when present) is carried at the
// message level rather than per-block, matching this system's internal
// Message model rather than any one vendor's literal schema.
type wireMessage struct {
	Role         string          `json:"role"`
	Content      json.RawMessage `json:"content"`
	ToolCalls    []json.RawMessage `json:"tool_calls,omitempty"`
	CacheControl *message.CacheControl `json:"cache_control,omitempty"`
}

type wireBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// decodeMessages parses the inbound request's "messages" array into the
// pipeline's internal Message representation.
func decodeMessages(raw json.RawMessage) ([]message.Message, error) {
	var wire []wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]message.Message, 0, len(wire))
	for _, w := range wire {
		content, err := decodeContent(w.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, message.Message{
			Role:         message.Role(w.Role),
			Content:      content,
			ToolCalls:    w.ToolCalls,
			CacheControl: w.CacheControl,
		})
	}
	return out, nil
}

func decodeContent(raw json.RawMessage) (message.Content, error) {
	if len(raw) == 0 {
		return message.Content{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return message.Content{}, fmt.Errorf("decode content string: %w", err)
		}
		return message.NewTextContent(text), nil
	}

	var rawBlocks []json.RawMessage
	if err := json.Unmarshal(raw, &rawBlocks); err != nil {
		return message.Content{}, fmt.Errorf("decode content blocks: %w", err)
	}
	blocks := make([]message.ContentBlock, 0, len(rawBlocks))
	for _, rb := range rawBlocks {
		var wb wireBlock
		if err := json.Unmarshal(rb, &wb); err != nil {
			return message.Content{}, fmt.Errorf("decode content block: %w", err)
		}
		block := message.ContentBlock{Type: wb.Type, Text: wb.Text}
		if wb.Text == "" {
			var extra map[string]any
			if err := json.Unmarshal(rb, &extra); err == nil {
				block.Extra = extra
			}
		}
		blocks = append(blocks, block)
	}
	return message.Content{Blocks: blocks}, nil
}

// encodeMessages serializes the pipeline's (possibly rewritten) Message
// sequence back to the wire shape the forwarder sends upstream.
func encodeMessages(msgs []message.Message) (json.RawMessage, error) {
	wire := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		content, err := encodeContent(m.Content)
		if err != nil {
			return nil, err
		}
		wire = append(wire, wireMessage{
			Role:         string(m.Role),
			Content:      content,
			ToolCalls:    m.ToolCalls,
			CacheControl: m.CacheControl,
		})
	}
	return json.Marshal(wire)
}

func encodeContent(c message.Content) (json.RawMessage, error) {
	if !c.IsBlocks() {
		return json.Marshal(c.Text)
	}
	out := make([]json.RawMessage, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Extra != nil {
			raw, err := json.Marshal(b.Extra)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			continue
		}
		raw, err := json.Marshal(wireBlock{Type: b.Type, Text: b.Text})
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// replaceMessages returns body with its "messages" field replaced by the
// encoding of msgs, every other top-level field left byte-identical —
// the same "rewrite one field, pass the rest through" discipline
// internal/forwarder applies to the model field.
func replaceMessages(body []byte, msgs []message.Message) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("replace messages: %w", err)
	}
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return nil, err
	}
	fields["messages"] = encoded
	return json.Marshal(fields)
}
