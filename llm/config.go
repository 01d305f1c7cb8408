package llm

import (
	"time"

	"github.com/Govcraft/acton-ai/types"
)

// RateLimitConfig bounds provider throughput. A zero limit disables that
// dimension.
type RateLimitConfig struct {
	// RequestsPerMinute caps call starts.
	RequestsPerMinute int
	// TokensPerMinute caps estimated input tokens over a fixed window.
	TokensPerMinute int
	// QueueWhenLimited parks over-limit requests in a FIFO queue instead
	// of failing them immediately.
	QueueWhenLimited bool
	// MaxQueueSize bounds the wait queue when queueing is enabled.
	MaxQueueSize int
}

// DefaultRateLimitConfig returns conservative per-provider limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   100000,
		QueueWhenLimited:  true,
		MaxQueueSize:      32,
	}
}

// RetryPolicy controls exponential backoff for retriable failures.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// InitialDelay seeds the backoff sequence.
	InitialDelay time.Duration
	// MaxDelay caps any single delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// Jitter randomizes each delay by +/-25% to avoid thundering herds.
	Jitter bool
}

// DefaultRetryPolicy returns the standard backoff schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ProviderConfig configures one provider actor.
type ProviderConfig struct {
	// Name identifies the provider in logs and events. Defaults to the
	// client's Name when empty.
	Name string
	// Model selects the backend model and drives token estimation.
	Model string
	// RateLimit bounds throughput for this provider.
	RateLimit RateLimitConfig
	// Retry governs backoff for retriable call failures.
	Retry RetryPolicy
	// RequestTimeout bounds each network attempt.
	RequestTimeout time.Duration
}

// DefaultProviderConfig returns a ready-to-use config for model.
func DefaultProviderConfig(model string) ProviderConfig {
	return ProviderConfig{
		Model:          model,
		RateLimit:      DefaultRateLimitConfig(),
		Retry:          DefaultRetryPolicy(),
		RequestTimeout: 2 * time.Minute,
	}
}

// Validate reports the first configuration problem found.
func (c ProviderConfig) Validate() error {
	if c.Model == "" {
		return types.NewError(types.ErrInvalidConfig, "model is required")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return types.NewError(types.ErrInvalidConfig, "requests per minute must not be negative")
	}
	if c.RateLimit.TokensPerMinute < 0 {
		return types.NewError(types.ErrInvalidConfig, "tokens per minute must not be negative")
	}
	if c.RateLimit.QueueWhenLimited && c.RateLimit.MaxQueueSize <= 0 {
		return types.NewError(types.ErrInvalidConfig, "max queue size must be positive when queueing is enabled")
	}
	if c.RequestTimeout < 0 {
		return types.NewError(types.ErrInvalidConfig, "request timeout must not be negative")
	}
	return nil
}

// withDefaults fills zero fields with usable values.
func (c ProviderConfig) withDefaults(client Client) ProviderConfig {
	if c.Name == "" && client != nil {
		c.Name = client.Name()
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 2.0
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	return c
}
