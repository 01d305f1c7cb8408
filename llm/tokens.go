package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Govcraft/acton-ai/types"
)

// tokenEstimator counts input tokens for rate-limit budgeting. It prefers
// a tiktoken encoding for the configured model and falls back to a
// character-ratio estimate for models without a known encoding.
type tokenEstimator struct {
	model   string
	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newTokenEstimator(model string) *tokenEstimator {
	return &tokenEstimator{model: model}
}

func (e *tokenEstimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		e.enc, e.initErr = tiktoken.EncodingForModel(e.model)
		if e.initErr != nil {
			e.enc, e.initErr = tiktoken.GetEncoding("cl100k_base")
		}
	})
	if e.initErr != nil {
		return nil
	}
	return e.enc
}

func (e *tokenEstimator) countText(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough fallback: ~4 chars per token for mostly-ASCII text.
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// countMessages estimates the input token cost of a request. Each message
// carries a few tokens of role and separator overhead.
func (e *tokenEstimator) countMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.countText(msg.Content) + 4
	}
	return total + 3
}
