package httpapi

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// APIError is the error body of a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries list metadata.
type Meta struct {
	Total int `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Success: status >= 200 && status < 300, Data: data})
}

func respondList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data, Meta: &Meta{Total: total}})
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, APIResponse{Error: &APIError{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func notFound(w http.ResponseWriter, message string) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", message)
}
