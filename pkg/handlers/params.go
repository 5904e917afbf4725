package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/models"
)

const dateLayout = "2006-01-02"

// ParseDate reads the "date" query parameter (YYYY-MM-DD). A missing
// parameter yields today's date. Returns false after writing a 400 on a
// malformed value.
func ParseDate(w http.ResponseWriter, r *http.Request, today time.Time, logger *zap.Logger) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC), true
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD", logger)
		return time.Time{}, false
	}
	return d, true
}

// ParsePair reads the required "pair" query parameter.
func ParsePair(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	pair, err := strconv.Atoi(r.URL.Query().Get("pair"))
	if err != nil || !models.ValidPair(pair) {
		writeError(w, http.StatusBadRequest, "invalid_pair", "pair must be between 1 and 7", logger)
		return 0, false
	}
	return pair, true
}

// writeError writes an error response, logging if the write itself fails.
func writeError(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
