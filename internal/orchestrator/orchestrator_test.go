package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansantos/slimclaw/internal/abtest"
	"github.com/evansantos/slimclaw/internal/budget"
	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/pricing"
	"github.com/evansantos/slimclaw/internal/routing"
	"github.com/evansantos/slimclaw/internal/tier"
)

func newOrchestrator() *Orchestrator {
	router := routing.NewRouter(budget.New(), abtest.New(), pricing.NewTable(nil, nil), nil, nil)
	return New(router, pricing.NewTable(nil, nil), nil, nil, nil)
}

func userMsg(text string) message.Message {
	return message.Message{Role: message.RoleUser, Content: message.NewTextContent(text)}
}

func assistantMsg(text string) message.Message {
	return message.Message{Role: message.RoleAssistant, Content: message.NewTextContent(text)}
}

func TestOptimize_EmptyMessagesReturnsZeroMetrics(t *testing.T) {
	o := newOrchestrator()
	res := o.Optimize(nil, DefaultConfig(), RequestContext{})
	assert.Empty(t, res.Messages)
	assert.Equal(t, 0, res.Metrics.OriginalTokens)
	assert.Equal(t, 0, res.Metrics.TokensSaved)
}

func TestOptimize_GloballyDisabledIsPassthrough(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Enabled = false
	msgs := []message.Message{userMsg("hello")}
	res := o.Optimize(msgs, cfg, RequestContext{})
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", res.Messages[0].Text())
	assert.Nil(t, res.RoutingDecision)
}

func TestOptimize_BypassOptimizationIsPassthrough(t *testing.T) {
	o := newOrchestrator()
	msgs := []message.Message{userMsg("hello")}
	res := o.Optimize(msgs, DefaultConfig(), RequestContext{BypassOptimization: true})
	require.Len(t, res.Messages, 1)
	assert.Nil(t, res.RoutingDecision)
}

func TestOptimize_SimpleGreetingRoutesToSimpleTier(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Routing.Enabled = true
	cfg.Routing.Tiers = map[tier.Tier]string{tier.Simple: "anthropic/haiku"}
	cfg.Routing.MinConfidence = 0.4

	msgs := []message.Message{
		userMsg("Hey there!"),
		assistantMsg("Hello! How can I help you today?"),
		userMsg("Thanks, just wanted to say hi"),
	}
	res := o.Optimize(msgs, cfg, RequestContext{OriginalModel: "slimclaw/auto"})
	require.NotNil(t, res.RoutingDecision)
	assert.Equal(t, tier.Simple.String(), res.Metrics.ClassificationTier)
	assert.Equal(t, routing.ReasonRouted, res.RoutingDecision.Reason)
	assert.Equal(t, "anthropic/haiku", res.RoutingDecision.TargetModel)
}

func TestOptimize_PinningBeatsClassification(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Routing.Enabled = true
	cfg.Routing.Tiers = map[tier.Tier]string{tier.Simple: "anthropic/haiku"}
	cfg.Routing.PinnedModels = map[string]struct{}{"anthropic/opus-4": {}}

	msgs := []message.Message{userMsg("Hey there, quick question")}
	res := o.Optimize(msgs, cfg, RequestContext{OriginalModel: "anthropic/opus-4"})
	require.NotNil(t, res.RoutingDecision)
	assert.Equal(t, routing.ReasonPinned, res.RoutingDecision.Reason)
	assert.Equal(t, "anthropic/opus-4", res.RoutingDecision.TargetModel)
}

func TestOptimize_LowConfidenceSkipsRouting(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Routing.Enabled = true
	cfg.Routing.Tiers = map[tier.Tier]string{tier.Simple: "anthropic/haiku"}
	cfg.Routing.MinConfidence = 0.99 // unreachable, forces low-confidence

	msgs := []message.Message{userMsg("hi")}
	res := o.Optimize(msgs, cfg, RequestContext{OriginalModel: "anthropic/opus-4"})
	require.NotNil(t, res.RoutingDecision)
	assert.Equal(t, routing.ReasonLowConfidence, res.RoutingDecision.Reason)
	assert.Equal(t, "anthropic/opus-4", res.RoutingDecision.TargetModel)
}

func TestOptimize_WindowingAppliedNeverIncreasesTokens(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Windowing.MaxMessages = 4
	cfg.Windowing.SummarizeThreshold = 3

	msgs := []message.Message{message.Message{Role: message.RoleSystem, Content: message.NewTextContent("be helpful")}}
	for i := 0; i < 20; i++ {
		msgs = append(msgs, userMsg("tell me something interesting about go routines and channels"))
		msgs = append(msgs, assistantMsg("sure, here's an explanation of concurrency primitives"))
	}
	res := o.Optimize(msgs, cfg, RequestContext{})
	assert.LessOrEqual(t, res.Metrics.OptimizedTokens, res.Metrics.OriginalTokens)
}

func TestOptimize_CachingDisabledInjectsNoBreakpoints(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Caching.Enabled = false

	msgs := []message.Message{
		message.Message{Role: message.RoleSystem, Content: message.NewTextContent("system prompt")},
		userMsg("short"),
	}
	res := o.Optimize(msgs, cfg, RequestContext{})
	assert.Equal(t, 0, res.Metrics.CacheBreakpointsInjected)
}

func TestOptimize_ShadowModeNeverChangesForwardTarget(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Mode = ModeShadow
	cfg.Routing.Enabled = true
	cfg.Routing.Tiers = map[tier.Tier]string{tier.Simple: "anthropic/haiku"}

	msgs := []message.Message{userMsg("hi there")}
	res := o.Optimize(msgs, cfg, RequestContext{OriginalModel: "slimclaw/auto"})
	require.NotNil(t, res.RoutingDecision)
	assert.Equal(t, "slimclaw/auto", res.ForwardModel)
}

func TestOptimize_ActiveModeAppliesRoutingDecision(t *testing.T) {
	o := newOrchestrator()
	cfg := DefaultConfig()
	cfg.Mode = ModeActive
	cfg.Routing.Enabled = true
	cfg.Routing.Tiers = map[tier.Tier]string{tier.Simple: "anthropic/haiku"}

	msgs := []message.Message{userMsg("hi there")}
	res := o.Optimize(msgs, cfg, RequestContext{OriginalModel: "slimclaw/auto"})
	require.NotNil(t, res.RoutingDecision)
	assert.Equal(t, "anthropic/haiku", res.ForwardModel)
}

func TestIsVirtualModel(t *testing.T) {
	assert.True(t, IsVirtualModel("slimclaw/auto"))
	assert.False(t, IsVirtualModel("anthropic/opus-4"))
}
