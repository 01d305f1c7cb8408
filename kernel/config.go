package kernel

import "github.com/Govcraft/acton-ai/types"

const (
	defaultMaxAgents = 100
)

// Config controls kernel-wide limits and defaults.
type Config struct {
	// MaxAgents caps how many agents the kernel will supervise at once.
	MaxAgents int

	// DefaultSystemPrompt is applied to agents spawned without one.
	DefaultSystemPrompt string
}

// NewConfig returns a kernel configuration with default limits.
func NewConfig() Config {
	return Config{MaxAgents: defaultMaxAgents}
}

// WithMaxAgents sets the agent ceiling.
func (c Config) WithMaxAgents(n int) Config {
	c.MaxAgents = n
	return c
}

// WithDefaultSystemPrompt sets the prompt used by agents that do not
// supply their own.
func (c Config) WithDefaultSystemPrompt(prompt string) Config {
	c.DefaultSystemPrompt = prompt
	return c
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.MaxAgents <= 0 {
		return types.NewError(types.ErrInvalidConfig, "max agents must be positive")
	}
	return nil
}
