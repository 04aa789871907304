package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spapperi/configurator/internal/export"
	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/models"
)

var validate = validator.New()

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message" validate:"required_with=ConversationID,max=4000"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128"`
}

// ChatResponse is the result of a chat turn.
type ChatResponse struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id"`
	CurrentPhase   string   `json:"current_phase"`
	ImageURL       string   `json:"image_url,omitempty"`
	IsComplete     bool     `json:"is_complete"`
	ExportFiles    []string `json:"export_files,omitempty"`
	UIType         string   `json:"ui_type,omitempty"`
	Options        []string `json:"options,omitempty"`
	Kind           string   `json:"kind"`
}

// ConversationSnapshot is the result of GET /api/conversation/{id}.
type ConversationSnapshot struct {
	Conversation  models.Conversation       `json:"conversation"`
	Configuration *models.ConfigurationData `json:"configuration"`
}

// PhaseSummary describes one catalog phase.
type PhaseSummary struct {
	ID          string   `json:"id"`
	Field       string   `json:"field"`
	UIType      string   `json:"ui_type"`
	Options     []string `json:"options,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Next        string   `json:"next"`
	Conditional bool     `json:"conditional"`
}

func toChatResponse(r flow.Reply) ChatResponse {
	return ChatResponse{
		Response:       r.Text,
		ConversationID: r.ConversationID,
		CurrentPhase:   r.Phase,
		ImageURL:       r.ImageRef,
		IsComplete:     r.Kind == flow.ReplyComplete,
		ExportFiles:    r.Artifacts,
		UIType:         string(r.UIHint),
		Options:        r.Options,
		Kind:           string(r.Kind),
	}
}

// chatHandler handles POST /api/chat. Without a conversation id it starts a
// new conversation; otherwise the message answers the pending question.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if err := validate.Struct(req); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationMessage(err)))
		return
	}

	var (
		reply flow.Reply
		err   error
	)
	if req.ConversationID == "" {
		reply, err = s.conversations.Start(r.Context(), "")
	} else {
		reply, err = s.conversations.SubmitAnswer(r.Context(), req.ConversationID, req.Message)
	}
	if err != nil {
		writeError(w, "chatHandler", err)
		return
	}
	slog.Debug("Server.chatHandler: reply", "conversationID", reply.ConversationID, "kind", reply.Kind, "phase", reply.Phase)
	writeJSONResponse(w, http.StatusOK, models.Success(toChatResponse(reply)))
}

// startConversationHandler handles POST /api/conversation.
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	reply, err := s.conversations.Start(r.Context(), "")
	if err != nil {
		writeError(w, "startConversationHandler", err)
		return
	}
	slog.Info("Server.startConversationHandler: conversation started", "conversationID", reply.ConversationID)
	writeJSONResponse(w, http.StatusCreated, models.Success(toChatResponse(reply)))
}

// getConversationHandler handles GET /api/conversation/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.st.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, "getConversationHandler", err)
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	data, err := s.st.GetConfigurationData(r.Context(), id)
	if err != nil {
		writeError(w, "getConversationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ConversationSnapshot{Conversation: *conv, Configuration: data}))
}

// historyHandler handles GET /api/conversation/{id}/history.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.st.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, "historyHandler", err)
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	msgs, err := s.st.GetMessages(r.Context(), id)
	if err != nil {
		writeError(w, "historyHandler", err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// exportHandler handles GET /api/conversation/{id}/export?format=txt|yaml.
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, "exportHandler", err)
		return
	}
	body, err := s.exporter.Render(r.Context(), id, format)
	if err != nil {
		writeError(w, "exportHandler", err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if format == export.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+"."+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.exportHandler: failed to write report", "error", err, "conversationID", id)
	}
}

// abandonHandler handles POST /api/conversation/{id}/abandon.
func (s *Server) abandonHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.conversations.Abandon(r.Context(), id); err != nil {
		writeError(w, "abandonHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation abandoned", nil))
}

// phasesHandler handles GET /api/phases.
func (s *Server) phasesHandler(w http.ResponseWriter, r *http.Request) {
	phases := flow.Phases()
	out := make([]PhaseSummary, 0, len(phases))
	for _, p := range phases {
		out = append(out, PhaseSummary{
			ID:          p.ID,
			Field:       string(p.Field),
			UIType:      string(p.UIHint),
			Options:     p.Options,
			ImageURL:    p.ImageRef,
			Next:        p.Next,
			Conditional: p.Prompt.IsConditional() || p.Format.IsConditional(),
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.st.ListConversations(r.Context(), models.ConversationStatusActive); err != nil {
		slog.Error("Server.healthHandler: store check failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Store unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	switch verrs[0].Field() {
	case "Message":
		if verrs[0].Tag() == "max" {
			return "Message too long"
		}
		return "Missing required field: message"
	case "ConversationID":
		return "Invalid conversation_id"
	}
	return "Invalid request"
}
