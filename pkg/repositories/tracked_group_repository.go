package repositories

import (
	"context"
	"fmt"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// TrackedGroupRepository defines data access for groups discovered on the
// schedule listing page.
type TrackedGroupRepository interface {
	// InsertUntracked adds new groups with is_tracked=false. Existing rows are
	// left untouched. Returns the number of rows inserted.
	InsertUntracked(ctx context.Context, names []string) (int, error)

	// UpsertTracked marks the groups as tracked, inserting them if missing.
	UpsertTracked(ctx context.Context, names []string) error

	// ListTracked returns the names of tracked groups.
	ListTracked(ctx context.Context) ([]string, error)

	// SetTracked toggles tracking. Returns apperrors.ErrNotFound for unknown groups.
	SetTracked(ctx context.Context, name string, tracked bool) error

	// Count returns the number of known groups.
	Count(ctx context.Context) (int, error)

	// List returns every known group.
	List(ctx context.Context) ([]models.TrackedGroup, error)
}

type trackedGroupRepository struct {
	db *database.DB
}

// NewTrackedGroupRepository creates a new tracked group repository.
func NewTrackedGroupRepository(db *database.DB) TrackedGroupRepository {
	return &trackedGroupRepository{db: db}
}

var _ TrackedGroupRepository = (*trackedGroupRepository)(nil)

func (r *trackedGroupRepository) InsertUntracked(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO tracked_groups (group_name, is_tracked)
		SELECT name, false FROM unnest($1::text[]) AS name
		ON CONFLICT (group_name) DO NOTHING`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, names)
	if err != nil {
		return 0, fmt.Errorf("failed to insert groups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *trackedGroupRepository) UpsertTracked(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	query := `
		INSERT INTO tracked_groups (group_name, is_tracked)
		SELECT name, true FROM unnest($1::text[]) AS name
		ON CONFLICT (group_name) DO UPDATE SET is_tracked = true`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, names); err != nil {
		return fmt.Errorf("failed to mark groups tracked: %w", err)
	}
	return nil
}

func (r *trackedGroupRepository) ListTracked(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT group_name FROM tracked_groups WHERE is_tracked ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked groups: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracked groups: %w", err)
	}
	return names, nil
}

func (r *trackedGroupRepository) SetTracked(ctx context.Context, name string, tracked bool) error {
	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE tracked_groups SET is_tracked = $2 WHERE group_name = $1`, name, tracked)
	if err != nil {
		return fmt.Errorf("failed to update group tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %q: %w", name, apperrors.ErrNotFound)
	}
	return nil
}

func (r *trackedGroupRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tracked_groups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count groups: %w", err)
	}
	return n, nil
}

func (r *trackedGroupRepository) List(ctx context.Context) ([]models.TrackedGroup, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT group_name, is_tracked FROM tracked_groups ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.TrackedGroup
	for rows.Next() {
		var g models.TrackedGroup
		if err := rows.Scan(&g.GroupName, &g.IsTracked); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}
