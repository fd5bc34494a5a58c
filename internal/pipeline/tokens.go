package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many prompt tokens a piece of text costs.
type TokenCounter interface {
	Count(text string) (int, error)
}

// modelEncodings maps model family prefixes to tiktoken encodings.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-5", "o200k_base"},
	{"gpt-4o", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

type tiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewTokenCounter returns a counter for the given model. Unknown models
// fall back to the o200k_base encoding. The encoding data is loaded on
// first use, since tiktoken may fetch it over the network.
func NewTokenCounter(model string) TokenCounter {
	encoding := "o200k_base"
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	return &tiktokenCounter{encoding: encoding}
}

func (c *tiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("load tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

func (c *tiktokenCounter) Count(text string) (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}
