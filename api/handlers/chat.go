package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
)

// Orchestrator is the request orchestrator surface ChatHandler drives:
// resolve -> rank -> attempt-loop -> cost -> debit -> metrics, all behind
// one call per request. Satisfied by *orchestrator.Orchestrator; declared
// here (not imported) so this package doesn't need to depend on
// internal/orchestrator's adapter-registry/selector construction details.
type Orchestrator interface {
	Execute(ctx context.Context, req *types.StandardRequest, userID string) (*types.StandardResponse, error)
	ExecuteStream(ctx context.Context, req *types.StandardRequest, userID string) (<-chan llm.StreamEvent, error)
}

// ChatHandler serves the OpenAI-compatible /v1/chat/completions surface.
// It decodes the wire body directly into types.StandardRequest (already
// isomorphic to the OpenAI shape) and writes types.StandardResponse back
// as the data field of the standard Response envelope, with no
// intermediate API-specific request/response types to keep in sync. Auth resolves the caller identity and wallet balance; Orchestrator
// does everything from model resolution through cost accounting.
type ChatHandler struct {
	Orchestrator Orchestrator
	Auth         llm.AuthProvider
	MinimalFund  float64
	logger       *zap.Logger
}

// NewChatHandler builds a ChatHandler. minimalFund is the balance floor
// below which a request is rejected before it ever reaches the
// orchestrator (spec.md §6's MINIMAL_FUND).
func NewChatHandler(orchestrator Orchestrator, auth llm.AuthProvider, minimalFund float64, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{Orchestrator: orchestrator, Auth: auth, MinimalFund: minimalFund, logger: logger}
}

// authenticate resolves the caller and rejects requests below the
// minimal-fund floor. Returns nil and writes the response itself on
// failure, mirroring validateRequest's calling convention.
func (h *ChatHandler) authenticate(w http.ResponseWriter, r *http.Request) *types.AuthData {
	auth, err := h.Auth.Authenticate(r.Context(), r.Header)
	if err != nil {
		h.handleSessionError(w, err)
		return nil
	}
	if auth.User.Balance < h.MinimalFund {
		WriteError(w, types.NewError(types.ErrInsufficientFunds, "wallet balance is below the minimum required to serve requests").WithHTTPStatus(http.StatusPaymentRequired), h.logger)
		return nil
	}
	return auth
}

// HandleChat handles POST /v1/chat/completions, dispatching to the
// streaming or non-streaming path based on the decoded request's stream
// field — the wire contract's only signal for which response shape to
// send, so the body is decoded exactly once here rather than in each path.
//
// @Summary Chat completion
// @Accept json
// @Produce json
// @Param request body types.StandardRequest true "chat completion request"
// @Success 200 {object} Response{data=types.StandardResponse}
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Security ApiKeyAuth
// @Router /v1/chat/completions [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req types.StandardRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.validateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	auth := h.authenticate(w, r)
	if auth == nil {
		return
	}

	if req.Stream {
		h.handleStream(w, r, &req, auth)
		return
	}
	h.handleCompletion(w, r, &req, auth)
}

func (h *ChatHandler) handleCompletion(w http.ResponseWriter, r *http.Request, req *types.StandardRequest, auth *types.AuthData) {
	start := time.Now()
	resp, err := h.Orchestrator.Execute(r.Context(), req, auth.User.ID)
	duration := time.Since(start)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	h.logger.Info("chat completion",
		zap.String("model", req.Model.RequestedID()),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", duration),
	)
	WriteSuccess(w, resp)
}

// handleStream serves stream=true requests with an SSE response of
// `data: <StreamChunk JSON>\n\n` frames terminated by `data: [DONE]\n\n`,
// per the streaming wire contract in §6. req and auth are already decoded
// and authenticated by HandleChat.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request, req *types.StandardRequest, auth *types.AuthData) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events, err := h.Orchestrator.ExecuteStream(ctx, req, auth.User.ID)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	for ev := range events {
		if ev.Err != nil {
			h.logger.Error("stream error", zap.Error(ev.Err))
			writeSSEError(w, ev.Err)
			flusher.Flush()
			return
		}
		w.Write([]byte("data: "))
		if err := writeJSON(w, ev.Chunk); err != nil {
			h.logger.Error("failed to write chunk", zap.Error(err))
			return
		}
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (h *ChatHandler) validateRequest(req *types.StandardRequest) *types.Error {
	if req.Model.RequestedID() == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return types.NewError(types.ErrInvalidRequest, "top_p must be between 0 and 1")
	}
	return nil
}

func (h *ChatHandler) handleSessionError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}
	internalErr := types.NewError(types.ErrInternalError, "session error").WithCause(err).WithRetryable(false)
	WriteError(w, internalErr, h.logger)
}

func writeSSEError(w http.ResponseWriter, err error) {
	msg := err.Error()
	if typedErr, ok := err.(*types.Error); ok {
		msg = typedErr.Message
	}
	payload, _ := json.Marshal(map[string]string{"error": msg})
	w.Write([]byte("event: error\ndata: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func writeJSON(w http.ResponseWriter, data any) error {
	return json.NewEncoder(w).Encode(data)
}
