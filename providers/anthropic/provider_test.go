package anthropic

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Type(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "anthropic-native", a.Type())
}

func TestAdapter_Configure_Unconfigured(t *testing.T) {
	a := &Adapter{}
	session, err := a.Configure(types.GatewayModel{ModelID: "claude-opus-4.5", Provider: "anthropic"})
	require.NoError(t, err)
	assert.False(t, session.IsConfigured())
}

func TestBuildRequestPayload_SystemExtraction(t *testing.T) {
	req := &types.StandardRequest{
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: types.NewTextContent("be terse")},
			{Role: types.RoleUser, Content: types.NewTextContent("hi")},
		},
		MaxTokens: 100,
	}
	payload, err := BuildRequestPayload(req, "claude-opus-4-5")
	require.NoError(t, err)

	var r request
	require.NoError(t, json.Unmarshal(payload, &r))
	var system []systemBlock
	require.NoError(t, json.Unmarshal(r.System, &system))
	require.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].Text)
	assert.Len(t, r.Messages, 1)
}

func TestBuildRequestPayload_DefaultsMaxTokens(t *testing.T) {
	req := &types.StandardRequest{Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("hi")}}}
	payload, err := BuildRequestPayload(req, "claude-opus-4-5")
	require.NoError(t, err)

	var r request
	require.NoError(t, json.Unmarshal(payload, &r))
	assert.Equal(t, defaultMaxTokens, r.MaxTokens)
}

func TestBuildRequestPayload_ToolChoiceNoneDropsTools(t *testing.T) {
	req := &types.StandardRequest{
		Messages:   []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("hi")}},
		Tools:      []types.ToolSchema{{Name: "get_weather", Parameters: json.RawMessage(`{}`)}},
		ToolChoice: types.ToolChoice{Mode: types.ToolChoiceNone},
	}
	payload, err := BuildRequestPayload(req, "claude-opus-4-5")
	require.NoError(t, err)

	var r request
	require.NoError(t, json.Unmarshal(payload, &r))
	assert.Empty(t, r.Tools)
}

func TestApplyPromptCache_PicksTopFourByPriorityThenSize(t *testing.T) {
	big := strings.Repeat("a", promptCacheSizeFloor)
	bigger := strings.Repeat("b", promptCacheSizeFloor+10)

	tools := []toolDef{{Name: "t1", InputSchema: json.RawMessage(`{"a":1}`)}}
	msgs := []message{
		{Role: "user", Content: []contentBlock{{Type: "text", Text: big}}},
		{Role: "assistant", Content: []contentBlock{{Type: "text", Text: bigger}}},
	}

	systemRaw := applyPromptCache(tools, "you are a helpful assistant", msgs)

	// tools (priority 0) and system (priority 1) must both be selected
	// before either message block, regardless of message-block size.
	assert.NotNil(t, tools[0].CacheControl)
	var decodedSystem []systemBlock
	require.NoError(t, json.Unmarshal(systemRaw, &decodedSystem))
	require.Len(t, decodedSystem, 1)
	assert.NotNil(t, decodedSystem[0].CacheControl)

	// Only 2 of the 4 budget slots remain: both message blocks qualify
	// and both fit within the remaining budget, so both get annotated.
	assert.NotNil(t, msgs[0].Content[0].CacheControl)
	assert.NotNil(t, msgs[1].Content[0].CacheControl)
}

func TestApplyPromptCache_BudgetCapsAtFour(t *testing.T) {
	mk := func(n int) string { return strings.Repeat("x", promptCacheSizeFloor+n) }
	msgs := []message{
		{Role: "user", Content: []contentBlock{{Type: "text", Text: mk(1)}}},
		{Role: "user", Content: []contentBlock{{Type: "text", Text: mk(2)}}},
		{Role: "user", Content: []contentBlock{{Type: "text", Text: mk(3)}}},
		{Role: "user", Content: []contentBlock{{Type: "text", Text: mk(4)}}},
		{Role: "user", Content: []contentBlock{{Type: "text", Text: mk(5)}}},
	}
	applyPromptCache(nil, "", msgs)

	annotated := 0
	for _, m := range msgs {
		if m.Content[0].CacheControl != nil {
			annotated++
		}
	}
	assert.Equal(t, promptCacheBlockBudget, annotated)
	// Ties broken by descending size: the largest four (2,3,4,5) win, not 1.
	assert.Nil(t, msgs[0].Content[0].CacheControl)
}

func TestParseResponsePayload_ToolUse(t *testing.T) {
	body := []byte(`{
		"id": "msg_1", "role": "assistant", "model": "claude-opus-4-5",
		"stop_reason": "tool_use",
		"content": [{"type":"tool_use","id":"tc_1","name":"get_weather","input":{"city":"nyc"}}],
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	resp, err := ParseResponsePayload(body, "anthropic-native")
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, types.FinishToolCalls, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Name)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, types.FinishToolCalls, mapStopReason("tool_use"))
	assert.Equal(t, types.FinishLength, mapStopReason("max_tokens"))
	assert.Equal(t, types.FinishStop, mapStopReason("end_turn"))
}
