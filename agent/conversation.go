package agent

import "github.com/Govcraft/acton-ai/types"

// Conversation is an agent's bounded message history. When the history
// exceeds its maximum length the oldest messages are dropped, except a
// leading system message, which is always preserved.
type Conversation struct {
	messages  []types.Message
	maxLength int
}

// NewConversation returns an empty history bounded to maxLength messages.
func NewConversation(maxLength int) *Conversation {
	if maxLength <= 0 {
		maxLength = 100
	}
	return &Conversation{maxLength: maxLength}
}

// Append adds msg, trimming the oldest entries past the bound.
func (c *Conversation) Append(msg types.Message) {
	c.messages = append(c.messages, msg)

	if len(c.messages) <= c.maxLength {
		return
	}
	excess := len(c.messages) - c.maxLength
	start := 0
	if c.messages[0].Role == types.RoleSystem {
		start = 1
	}
	c.messages = append(c.messages[:start], c.messages[start+excess:]...)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []types.Message {
	return append([]types.Message(nil), c.messages...)
}

// Len returns the number of messages held.
func (c *Conversation) Len() int { return len(c.messages) }

// Clear empties the history.
func (c *Conversation) Clear() { c.messages = nil }
