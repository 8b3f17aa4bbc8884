package modeladapter

import (
	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
)

// perMessageOverhead is the estimated token cost of a message's role and
// template delimiters.
const perMessageOverhead = 4

// TokenEstimator estimates prompt sizes with the 1-token-per-4-characters
// heuristic. It is only good enough to warn about prompts that will not fit
// a context window. The zero value is ready to use.
type TokenEstimator struct{}

func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimatePrompt estimates the tokens of a raw prompt.
func (e *TokenEstimator) EstimatePrompt(prompt string) int {
	return charsToTokens(len(prompt))
}

// EstimateChat estimates the input tokens of a whole conversation.
func (e *TokenEstimator) EstimateChat(c *chat.Chat) int {
	tokens := 0
	c.Each(func(_ int, m message.Message) bool {
		tokens += perMessageOverhead + charsToTokens(len(m.TextContent()))
		return true
	})
	return tokens
}

// Fits reports whether a prompt of the given estimated size leaves room for
// reserve output tokens in a window of size window. A non-positive window
// always fits.
func (e *TokenEstimator) Fits(estimate, reserve, window int) bool {
	if window <= 0 {
		return true
	}
	return estimate+reserve <= window
}
