package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOrchestrator is a scriptable Orchestrator double for ChatHandler tests.
type fakeOrchestrator struct {
	response     *types.StandardResponse
	err          error
	streamChunks []string
	streamErr    error
}

func (f *fakeOrchestrator) Execute(ctx context.Context, req *types.StandardRequest, userID string) (*types.StandardResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := f.response
	if resp == nil {
		resp = &types.StandardResponse{
			ID:      "mock-response-id",
			Object:  "chat.completion",
			Model:   req.Model.RequestedID(),
			Choices: []types.Choice{{Index: 0, FinishReason: types.FinishStop, Message: types.ChatMessage{Role: types.RoleAssistant, Content: types.NewTextContent("Hi there!")}}},
			Usage:   types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}
	}
	return resp, nil
}

func (f *fakeOrchestrator) ExecuteStream(ctx context.Context, req *types.StandardRequest, userID string) (<-chan llm.StreamEvent, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llm.StreamEvent, len(f.streamChunks)+1)
	go func() {
		defer close(ch)
		for i, chunk := range f.streamChunks {
			finish := types.FinishReason("")
			if i == len(f.streamChunks)-1 {
				finish = types.FinishStop
			}
			ch <- llm.StreamEvent{Chunk: &types.StreamChunk{
				ID: "mock-chunk-id", Object: "chat.completion.chunk", Model: req.Model.RequestedID(),
				Choices: []types.StreamChunkChoice{{Index: i, Delta: types.Delta{Role: types.RoleAssistant, Content: chunk}, FinishReason: finish}},
			}}
		}
	}()
	return ch, nil
}

// fakeAuth is a scriptable llm.AuthProvider double.
type fakeAuth struct {
	data *types.AuthData
	err  error
}

func (f *fakeAuth) Authenticate(ctx context.Context, headers map[string][]string) (*types.AuthData, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return &types.AuthData{User: types.AuthUser{ID: "user-1", Balance: 100}}, nil
}

func newTestChatHandler(orch *fakeOrchestrator, auth *fakeAuth) *ChatHandler {
	return NewChatHandler(orch, auth, 0, zap.NewNop())
}

func TestChatHandler_HandleChat_Completion(t *testing.T) {
	tests := []struct {
		name           string
		request        types.StandardRequest
		orchestrator   *fakeOrchestrator
		expectedStatus int
		checkResponse  func(*testing.T, *types.StandardResponse)
	}{
		{
			name: "successful completion",
			request: types.StandardRequest{
				Model:    types.ModelRef{Alias: "gpt-4"},
				Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
			},
			orchestrator:   &fakeOrchestrator{},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *types.StandardResponse) {
				assert.Equal(t, "mock-response-id", resp.ID)
				require.Len(t, resp.Choices, 1)
				assert.Equal(t, "Hi there!", resp.Choices[0].Message.Content.String())
			},
		},
		{
			name: "missing model",
			request: types.StandardRequest{
				Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
			},
			orchestrator:   &fakeOrchestrator{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "empty messages",
			request: types.StandardRequest{
				Model: types.ModelRef{Alias: "gpt-4"},
			},
			orchestrator:   &fakeOrchestrator{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid temperature",
			request: types.StandardRequest{
				Model:       types.ModelRef{Alias: "gpt-4"},
				Messages:    []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				Temperature: floatPtr(3.0),
			},
			orchestrator:   &fakeOrchestrator{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestChatHandler(tt.orchestrator, &fakeAuth{})

			body, err := json.Marshal(tt.request)
			require.NoError(t, err)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
			r.Header.Set("Content-Type", "application/json")

			handler.HandleChat(w, r)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK && tt.checkResponse != nil {
				var resp Response
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.True(t, resp.Success)

				dataBytes, err := json.Marshal(resp.Data)
				require.NoError(t, err)

				var chatResp types.StandardResponse
				require.NoError(t, json.Unmarshal(dataBytes, &chatResp))
				tt.checkResponse(t, &chatResp)
			}
		})
	}
}

func TestChatHandler_HandleChat_Stream(t *testing.T) {
	t.Run("successful stream", func(t *testing.T) {
		handler := newTestChatHandler(&fakeOrchestrator{streamChunks: []string{"Hello", " world"}}, &fakeAuth{})

		request := types.StandardRequest{
			Model:    types.ModelRef{Alias: "gpt-4"},
			Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
			Stream:   true,
		}
		body, err := json.Marshal(request)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		handler.HandleChat(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "data: [DONE]")
	})

	t.Run("invalid request", func(t *testing.T) {
		handler := newTestChatHandler(&fakeOrchestrator{}, &fakeAuth{})

		request := types.StandardRequest{
			Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
			Stream:   true,
		}
		body, err := json.Marshal(request)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		handler.HandleChat(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChatHandler_HandleChat_InsufficientFunds(t *testing.T) {
	handler := newTestChatHandler(&fakeOrchestrator{}, &fakeAuth{})
	handler.MinimalFund = 50
	handler.Auth = &fakeAuth{data: &types.AuthData{User: types.AuthUser{ID: "user-1", Balance: 1}}}

	request := types.StandardRequest{
		Model:    types.ModelRef{Alias: "gpt-4"},
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
	}
	body, err := json.Marshal(request)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	handler.HandleChat(w, r)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestChatHandler_ValidateRequest(t *testing.T) {
	handler := newTestChatHandler(&fakeOrchestrator{}, &fakeAuth{})

	tests := []struct {
		name    string
		request *types.StandardRequest
		wantErr bool
	}{
		{
			name: "valid request",
			request: &types.StandardRequest{
				Model:       types.ModelRef{Alias: "gpt-4"},
				Messages:    []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				Temperature: floatPtr(0.7),
				TopP:        floatPtr(0.9),
			},
			wantErr: false,
		},
		{
			name: "missing model",
			request: &types.StandardRequest{
				Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
			},
			wantErr: true,
		},
		{
			name: "empty messages",
			request: &types.StandardRequest{
				Model: types.ModelRef{Alias: "gpt-4"},
			},
			wantErr: true,
		},
		{
			name: "invalid temperature - too low",
			request: &types.StandardRequest{
				Model:       types.ModelRef{Alias: "gpt-4"},
				Messages:    []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				Temperature: floatPtr(-0.1),
			},
			wantErr: true,
		},
		{
			name: "invalid temperature - too high",
			request: &types.StandardRequest{
				Model:       types.ModelRef{Alias: "gpt-4"},
				Messages:    []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				Temperature: floatPtr(2.1),
			},
			wantErr: true,
		},
		{
			name: "invalid top_p - too low",
			request: &types.StandardRequest{
				Model:    types.ModelRef{Alias: "gpt-4"},
				Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				TopP:     floatPtr(-0.1),
			},
			wantErr: true,
		},
		{
			name: "invalid top_p - too high",
			request: &types.StandardRequest{
				Model:    types.ModelRef{Alias: "gpt-4"},
				Messages: []types.ChatMessage{{Role: types.RoleUser, Content: types.NewTextContent("Hello")}},
				TopP:     floatPtr(1.1),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.validateRequest(tt.request)
			if tt.wantErr {
				assert.NotNil(t, err)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func floatPtr(f float64) *float64 { return &f }
