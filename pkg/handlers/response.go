package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

var errStreamingUnsupported = errors.New("response writer does not support flushing")

// NDJSONWriter streams newline-delimited JSON events, flushing after each one
// so clients see progress as it happens.
type NDJSONWriter struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewNDJSONWriter writes the 200 status and content type.
// It fails before writing anything if w cannot flush.
func NewNDJSONWriter(w http.ResponseWriter) (*NDJSONWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	return &NDJSONWriter{enc: json.NewEncoder(w), flusher: flusher}, nil
}

// Event writes one line and flushes it.
func (s *NDJSONWriter) Event(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
