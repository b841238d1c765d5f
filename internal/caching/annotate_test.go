package caching

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansantos/slimclaw/internal/message"
)

func msg(role message.Role, text string) message.Message {
	return message.Message{Role: role, Content: message.NewTextContent(text)}
}

func defaultConfig() Config {
	return Config{Enabled: true, InjectBreakpoints: true, MinContentLength: 1000}
}

func TestAnnotateDisabledLeavesMessagesUnmarked(t *testing.T) {
	msgs := []message.Message{msg(message.RoleSystem, "sys")}
	res := Annotate(msgs, Config{Enabled: false})
	assert.Nil(t, res.Messages[0].CacheControl)
}

func TestAnnotateMixedConversation(t *testing.T) {
	long := strings.Repeat("x", 1200)
	msgs := []message.Message{
		msg(message.RoleSystem, "sys"),
		msg(message.RoleUser, "hi"),
		msg(message.RoleAssistant, "hello"),
		msg(message.RoleUser, long),
		msg(message.RoleAssistant, "ok"),
		msg(message.RoleUser, "thanks"),
		msg(message.RoleAssistant, "anytime"),
	}
	res := Annotate(msgs, defaultConfig())
	require.Len(t, res.Messages, 7)
	assert.NotNil(t, res.Messages[0].CacheControl, "system message")
	assert.NotNil(t, res.Messages[3].CacheControl, "long message")
	assert.NotNil(t, res.Messages[5].CacheControl, "penultimate message")
	assert.Nil(t, res.Messages[1].CacheControl)
	assert.Nil(t, res.Messages[2].CacheControl)
	assert.Nil(t, res.Messages[4].CacheControl)
	assert.Nil(t, res.Messages[6].CacheControl)
	assert.Equal(t, 3, res.Stats.BreakpointsInjected)
}

func TestAnnotateNeverDoubleMarks(t *testing.T) {
	msgs := []message.Message{
		msg(message.RoleSystem, "sys").WithCacheControl(&message.CacheControl{Type: "ephemeral"}),
	}
	res := Annotate(msgs, defaultConfig())
	assert.Equal(t, 0, res.Stats.BreakpointsInjected)
	assert.Equal(t, 1, res.Stats.EligibleMessages)
}

func TestAnnotateIdempotent(t *testing.T) {
	long := strings.Repeat("y", 1200)
	msgs := []message.Message{msg(message.RoleSystem, "sys"), msg(message.RoleUser, long)}
	once := Annotate(msgs, defaultConfig())
	twice := Annotate(once.Messages, defaultConfig())
	assert.Equal(t, once.Messages, twice.Messages)
}

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	msgs := []message.Message{msg(message.RoleSystem, "sys")}
	_ = Annotate(msgs, defaultConfig())
	assert.Nil(t, msgs[0].CacheControl)
}
