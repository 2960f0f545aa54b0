// Package mocks provides a MockSession implementing llm.AdapterSession,
// for orchestrator and handler tests that need a scriptable upstream
// without a real adapter.
//
// Usage:
//
//	session := mocks.NewMockSession().
//	    WithResponse("Hello, World!").
//	    WithTokenUsage(100, 50)
//
//	session := mocks.NewMockSession().WithStreamChunks([]string{"Hello", ", ", "World", "!"})
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
)

// MockSession is a scriptable llm.AdapterSession.
type MockSession struct {
	mu sync.RWMutex

	response     string
	streamChunks []string
	toolCalls    []types.ToolCall
	err          error
	configured   bool

	promptTokens     int
	completionTokens int

	calls          []MockSessionCall
	executeFunc    func(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error)
	streamFunc     func(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error)

	failAfter int
	callCount int
}

// MockSessionCall records one Execute/ExecuteStream invocation.
type MockSessionCall struct {
	Request  *types.StandardRequest
	Response *types.StandardResponse
	Error    error
}

// NewMockSession builds a configured session with a default canned response.
func NewMockSession() *MockSession {
	return &MockSession{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
		configured:       true,
	}
}

func (m *MockSession) WithResponse(response string) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

func (m *MockSession) WithError(err error) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockSession) WithStreamChunks(chunks []string) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

func (m *MockSession) WithToolCalls(toolCalls []types.ToolCall) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = toolCalls
	return m
}

func (m *MockSession) WithTokenUsage(prompt, completion int) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

func (m *MockSession) WithFailAfter(n int) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

func (m *MockSession) WithConfigured(configured bool) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = configured
	return m
}

func (m *MockSession) WithExecuteFunc(fn func(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error)) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = fn
	return m
}

func (m *MockSession) WithStreamFunc(fn func(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error)) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// IsConfigured implements llm.AdapterSession.
func (m *MockSession) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configured
}

// Validate implements llm.AdapterSession; the mock never rejects a request.
func (m *MockSession) Validate(req *types.StandardRequest) error { return nil }

// Execute implements llm.AdapterSession.
func (m *MockSession) Execute(ctx context.Context, req *types.StandardRequest) (*types.StandardResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++

	if m.failAfter > 0 && m.callCount > m.failAfter {
		err := errors.New("mock session: configured to fail after N calls")
		m.calls = append(m.calls, MockSessionCall{Request: req, Error: err})
		return nil, err
	}
	if m.err != nil {
		m.calls = append(m.calls, MockSessionCall{Request: req, Error: m.err})
		return nil, m.err
	}
	if m.executeFunc != nil {
		resp, err := m.executeFunc(ctx, req)
		m.calls = append(m.calls, MockSessionCall{Request: req, Response: resp, Error: err})
		return resp, err
	}

	msg := types.ChatMessage{Role: types.RoleAssistant, Content: types.NewTextContent(m.response), ToolCalls: m.toolCalls}
	finish := types.FinishStop
	if len(m.toolCalls) > 0 {
		finish = types.FinishToolCalls
	}
	resp := &types.StandardResponse{
		ID:      "mock-response-id",
		Object:  "chat.completion",
		Model:   req.Model.RequestedID(),
		Choices: []types.Choice{{Index: 0, FinishReason: finish, Message: msg}},
		Usage:   types.Usage{PromptTokens: m.promptTokens, CompletionTokens: m.completionTokens, TotalTokens: m.promptTokens + m.completionTokens},
	}
	m.calls = append(m.calls, MockSessionCall{Request: req, Response: resp})
	return resp, nil
}

// ExecuteStream implements llm.AdapterSession.
func (m *MockSession) ExecuteStream(ctx context.Context, req *types.StandardRequest) (<-chan llm.StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}

	ch := make(chan llm.StreamEvent, len(m.streamChunks)+1)
	modelID := req.Model.RequestedID()
	response := m.response
	chunks := m.streamChunks

	go func() {
		defer close(ch)
		if len(chunks) == 0 {
			ch <- llm.StreamEvent{Chunk: &types.StreamChunk{
				ID: "mock-chunk-id", Object: "chat.completion.chunk", Model: modelID,
				Choices: []types.StreamChunkChoice{{Delta: types.Delta{Role: types.RoleAssistant, Content: response}, FinishReason: types.FinishStop}},
			}}
			return
		}
		for i, chunk := range chunks {
			finish := types.FinishReason("")
			if i == len(chunks)-1 {
				finish = types.FinishStop
			}
			select {
			case <-ctx.Done():
				return
			case ch <- llm.StreamEvent{Chunk: &types.StreamChunk{
				ID: "mock-chunk-id", Object: "chat.completion.chunk", Model: modelID,
				Choices: []types.StreamChunkChoice{{Index: i, Delta: types.Delta{Role: types.RoleAssistant, Content: chunk}, FinishReason: finish}},
			}}:
			}
		}
	}()
	return ch, nil
}

// HealthCheck is not part of llm.AdapterSession but kept for tests that
// probe reachability directly against the mock.
func (m *MockSession) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: 10 * time.Millisecond}, nil
}

// GetCalls returns every recorded Execute/ExecuteStream call.
func (m *MockSession) GetCalls() []MockSessionCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockSessionCall{}, m.calls...)
}

// GetCallCount returns the number of calls made so far.
func (m *MockSession) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall returns the most recent call, or nil if none were made.
func (m *MockSession) GetLastCall() *MockSessionCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears recorded calls and any preset error.
func (m *MockSession) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
}

// NewSuccessSession returns a session that always succeeds with response.
func NewSuccessSession(response string) *MockSession { return NewMockSession().WithResponse(response) }

// NewErrorSession returns a session that always fails with err.
func NewErrorSession(err error) *MockSession { return NewMockSession().WithError(err) }

// NewToolCallSession returns a session whose completion carries toolCalls.
func NewToolCallSession(toolCalls []types.ToolCall) *MockSession {
	return NewMockSession().WithToolCalls(toolCalls)
}

// NewStreamSession returns a session that streams chunks.
func NewStreamSession(chunks []string) *MockSession { return NewMockSession().WithStreamChunks(chunks) }

// NewFlakeySession returns a session that fails after the Nth call.
func NewFlakeySession(failAfter int, response string) *MockSession {
	return NewMockSession().WithResponse(response).WithFailAfter(failAfter)
}
