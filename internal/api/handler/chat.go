// Package handler provides HTTP handlers for the Lepak Driver chat API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/api/middleware"
	"github.com/lepakdriver/lepakdriver/internal/api/models"
	"github.com/lepakdriver/lepakdriver/internal/api/response"
	"github.com/lepakdriver/lepakdriver/internal/assistant"
	"github.com/lepakdriver/lepakdriver/internal/conversation"
)

// maxChatBodyBytes bounds the request body, leaving room for JSON escaping
// of a MaxMessageLength text.
const maxChatBodyBytes = 4 * models.MaxMessageLength

// Chatter answers messages and clears history. *assistant.Assistant
// implements it.
type Chatter interface {
	Handle(ctx context.Context, msg assistant.Message) assistant.Reply
	ClearHistory(ctx context.Context, userID string) (bool, error)
	Format(text string) string
	ToolNames() []string
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	chatter  Chatter
	validate *validator.Validate
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatter Chatter) *ChatHandler {
	return &ChatHandler{
		chatter:  chatter,
		validate: models.NewValidator(),
	}
}

// Chat handles POST /v1/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.PayloadTooLarge(w, r, "message is too long")
		case errors.Is(err, io.EOF):
			response.BadRequest(w, r, "request body is empty", nil)
		default:
			response.BadRequest(w, r, "invalid JSON body", nil)
		}
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, r, "invalid chat request", models.FieldErrors(err))
		return
	}

	userID, ok := resolveUserID(w, r, req.UserID)
	if !ok {
		return
	}

	reply := h.chatter.Handle(r.Context(), assistant.Message{
		UserID:   userID,
		Username: strings.TrimSpace(req.Username),
		Text:     req.Text,
	})

	resp := models.ChatResponse{Reply: reply.Text, Fallback: reply.Failed}
	if reply.Asset != nil {
		resp.Asset = &models.Asset{Path: reply.Asset.Path, Caption: reply.Asset.Caption}
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// ClearToday handles DELETE /v1/conversations/today.
func (h *ChatHandler) ClearToday(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUserID(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}

	existed, err := h.chatter.ClearHistory(r.Context(), userID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("failed to clear conversation")
		response.InternalError(w, r, assistant.ClearFailedReply)
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("user_id", userID).Bool("existed", existed).Msg("conversation cleared")
	response.JSON(w, r, http.StatusOK, models.ClearResponse{
		Cleared: existed,
		Message: h.chatter.Format(assistant.ClearText(existed)),
	})
}

// Help handles GET /v1/help. The optional name query parameter personalizes
// the welcome text.
func (h *ChatHandler) Help(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.HelpResponse{
		Welcome: h.chatter.Format(assistant.WelcomeText(r.URL.Query().Get("name"))),
		Help:    h.chatter.Format(assistant.HelpText),
		Tools:   h.chatter.ToolNames(),
	})
}

// resolveUserID prefers the authenticated user over a client-supplied id and
// checks the result against the conversation key rules. On failure it writes
// a 400 and returns false.
func resolveUserID(w http.ResponseWriter, r *http.Request, fromClient string) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		id = strings.TrimSpace(fromClient)
	}

	if id == "" {
		response.BadRequest(w, r, "user_id is required", []models.FieldError{
			{Field: "user_id", Message: "is required", Code: "required"},
		})
		return "", false
	}
	if err := conversation.ValidateUserID(id); err != nil {
		response.BadRequest(w, r, "invalid user_id", []models.FieldError{
			{Field: "user_id", Message: "must not contain '/', '\\', ':' or '..'", Code: "invalid"},
		})
		return "", false
	}
	return id, true
}
