// Package tokencount counts tokens for message and session content using
// the cl100k_base tokenizer, with a deterministic character-based
// fallback when the encoder cannot be loaded.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens for arbitrary text.
type Counter struct {
	mu      sync.RWMutex
	encoder *tiktoken.Tiktoken
}

// New builds a Counter backed by the cl100k_base encoding. If the
// encoding cannot be loaded (e.g. no network access to fetch the BPE
// ranks on first use), the returned Counter falls back to an estimator
// and never errors.
func New() *Counter {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{encoder: encoder}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.encoder == nil {
		return estimate(text)
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// CountAll sums Count over a slice of message contents.
func (c *Counter) CountAll(contents []string) int {
	total := 0
	for _, content := range contents {
		total += c.Count(content)
	}
	return total
}

// estimate approximates token count when no encoder is available: one
// token per word, or one token per four characters, whichever is larger.
func estimate(text string) int {
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if words > chars {
		return words
	}
	return chars
}
