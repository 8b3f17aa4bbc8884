package modeladapter_test

import (
	"strings"
	"testing"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
)

func TestTokenEstimator_EstimatePrompt(t *testing.T) {
	var e modeladapter.TokenEstimator

	assert.Equal(t, 0, e.EstimatePrompt(""))
	assert.Equal(t, 1, e.EstimatePrompt("abc"))
	assert.Equal(t, 2, e.EstimatePrompt("abcde"))
	assert.Equal(t, 250, e.EstimatePrompt(strings.Repeat("x", 1000)))
}

func TestTokenEstimator_EstimateChat(t *testing.T) {
	var e modeladapter.TokenEstimator

	c := chat.New(
		message.NewText("sys", role.System, strings.Repeat("a", 40)),
		message.NewText("user", role.User, strings.Repeat("b", 8)),
	)

	// (4 + 10) + (4 + 2)
	assert.Equal(t, 20, e.EstimateChat(c))
	assert.Equal(t, 0, e.EstimateChat(chat.New()))
}

func TestTokenEstimator_Fits(t *testing.T) {
	var e modeladapter.TokenEstimator

	assert.True(t, e.Fits(5000, 1000, 0))
	assert.True(t, e.Fits(1000, 1048, 2048))
	assert.False(t, e.Fits(1500, 1000, 2048))
}
