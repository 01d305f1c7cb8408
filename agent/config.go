package agent

import (
	"github.com/Govcraft/acton-ai/types"
)

// Config describes one agent.
type Config struct {
	// ID pre-assigns the agent's identity; empty means generate one.
	ID types.AgentID
	// SystemPrompt defines the agent's behavior. Sent as the first
	// message of every request when non-empty.
	SystemPrompt string
	// Name is an optional display name for logs.
	Name string
	// Capabilities are the task types this agent advertises to the
	// capability registry.
	Capabilities []string
	// MaxConversationLength bounds history; the leading system message
	// survives trimming.
	MaxConversationLength int
	// MaxToolRounds bounds Executing -> Thinking resubmissions per
	// prompt before the loop aborts.
	MaxToolRounds int
}

// NewConfig returns a config with the given system prompt and defaults.
func NewConfig(systemPrompt string) Config {
	return Config{
		SystemPrompt:          systemPrompt,
		MaxConversationLength: 100,
		MaxToolRounds:         10,
	}
}

// WithID pre-assigns the agent ID.
func (c Config) WithID(id types.AgentID) Config {
	c.ID = id
	return c
}

// WithName sets the display name.
func (c Config) WithName(name string) Config {
	c.Name = name
	return c
}

// WithCapabilities sets the advertised task types.
func (c Config) WithCapabilities(caps ...string) Config {
	c.Capabilities = caps
	return c
}

// WithMaxConversationLength bounds history.
func (c Config) WithMaxConversationLength(n int) Config {
	c.MaxConversationLength = n
	return c
}

// WithMaxToolRounds bounds tool rounds per prompt.
func (c Config) WithMaxToolRounds(n int) Config {
	c.MaxToolRounds = n
	return c
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.MaxConversationLength < 0 {
		return types.NewError(types.ErrInvalidConfig, "max conversation length must not be negative")
	}
	if c.MaxToolRounds < 0 {
		return types.NewError(types.ErrInvalidConfig, "max tool rounds must not be negative")
	}
	return nil
}

// withDefaults fills zero fields with usable values.
func (c Config) withDefaults() Config {
	if c.ID.IsZero() {
		c.ID = types.NewAgentID()
	}
	if c.MaxConversationLength == 0 {
		c.MaxConversationLength = 100
	}
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 10
	}
	return c
}
