package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spapperi/configurator/internal/export"
	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/store"
)

// Pre-marshaled fallback response for the case where encoding fails.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals response before touching the headers so an
// encoding failure can still produce a clean 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as a generic 500.
func writeError(w http.ResponseWriter, op string, err error) {
	var status int
	var message string
	switch {
	case errors.Is(err, flow.ErrConversationNotFound), errors.Is(err, store.ErrConversationNotFound):
		status, message = http.StatusNotFound, "Conversation not found"
	case errors.Is(err, flow.ErrFlowComplete):
		status, message = http.StatusConflict, "Conversation already completed"
	case errors.Is(err, flow.ErrConversationClosed):
		status, message = http.StatusConflict, "Conversation closed"
	case errors.Is(err, flow.ErrStalePhase):
		status, message = http.StatusConflict, "Conversation moved to another phase"
	case errors.Is(err, export.ErrUnknownFormat):
		status, message = http.StatusBadRequest, "Unsupported export format"
	default:
		slog.Error("Server."+op+": request failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	slog.Debug("Server."+op+": request rejected", "status", status, "error", err)
	writeJSONResponse(w, status, models.Error(message))
}
