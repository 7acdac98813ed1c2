package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type contextKey string

const (
	contextUserIDKey contextKey = "user_id"
	contextTokenKey  contextKey = "token"
)

func userIDFromContext(ctx context.Context) (int, error) {
	id, ok := ctx.Value(contextUserIDKey).(int)
	if !ok || id < 1 {
		return 0, errors.New("missing subject")
	}
	return id, nil
}

func tokenFromContext(ctx context.Context) (string, error) {
	tok, ok := ctx.Value(contextTokenKey).(string)
	if !ok || tok == "" {
		return "", errors.New("missing token")
	}
	return tok, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a simple informational payload.
type MessageResponse struct {
	Message string `json:"message"`
}
