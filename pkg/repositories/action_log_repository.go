package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// sqliteTime is fixed-width UTC so timestamps compare as text and match
// SQLite's CURRENT_TIMESTAMP.
const sqliteTime = "2006-01-02 15:04:05"

// ActionLogRepository stores user action analytics in SQLite.
type ActionLogRepository interface {
	// Log records one action. A zero Timestamp means now.
	Log(ctx context.Context, entry *models.ActionLog) error

	// DeleteOlderThan removes entries logged before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// CountSince counts entries per action logged at or after since.
	CountSince(ctx context.Context, since time.Time) (map[string]int, error)
}

type actionLogRepository struct {
	db *sql.DB
}

// NewActionLogRepository creates an action log repository over an analytics
// database opened with database.OpenAnalytics.
func NewActionLogRepository(db *sql.DB) ActionLogRepository {
	return &actionLogRepository{db: db}
}

var _ ActionLogRepository = (*actionLogRepository)(nil)

func (r *actionLogRepository) Log(ctx context.Context, entry *models.ActionLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO action_logs (user_id, action, details, timestamp) VALUES (?, ?, ?, ?)`,
		entry.UserID, entry.Action, entry.Details, entry.Timestamp.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("failed to log action: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (r *actionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM action_logs WHERE timestamp < ?`, cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old action logs: %w", err)
	}
	return res.RowsAffected()
}

func (r *actionLogRepository) CountSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM action_logs WHERE timestamp >= ? GROUP BY action`,
		since.UTC().Format(sqliteTime))
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
