package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// OccupancyRepository defines data access for room occupancy records.
type OccupancyRepository interface {
	// ReplaceRange deletes the building's rows dated within the span of
	// records and inserts records, in one transaction. Rows of the building
	// outside that span are kept. Records must all belong to building.
	ReplaceRange(ctx context.Context, building string, records []models.Occupancy) (int64, error)

	// ListRooms returns every known room. Without a building filter rooms
	// are reported as "building-room".
	ListRooms(ctx context.Context, building string) ([]string, error)

	// ListOccupiedRooms returns rooms recorded busy at (date, pair),
	// formatted like ListRooms.
	ListOccupiedRooms(ctx context.Context, date time.Time, pair int, building string) ([]string, error)

	// ListBuildings returns the distinct buildings seen in occupancy reports.
	ListBuildings(ctx context.Context) ([]string, error)
}

type occupancyRepository struct {
	db *database.DB
}

// NewOccupancyRepository creates a new occupancy repository.
func NewOccupancyRepository(db *database.DB) OccupancyRepository {
	return &occupancyRepository{db: db}
}

var _ OccupancyRepository = (*occupancyRepository)(nil)

var occupancyColumns = []string{"building", "room", "date", "pair_number", "is_free", "group_name"}

func (r *occupancyRepository) ReplaceRange(ctx context.Context, building string, records []models.Occupancy) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	from, to := records[0].Date, records[0].Date
	for _, rec := range records[1:] {
		if rec.Date.Before(from) {
			from = rec.Date
		}
		if rec.Date.After(to) {
			to = rec.Date
		}
	}

	var n int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		_, err := conn.Exec(ctx,
			`DELETE FROM occupancy WHERE building = $1 AND date BETWEEN $2 AND $3`, building, from, to)
		if err != nil {
			return fmt.Errorf("failed to delete occupancy range: %w", err)
		}

		n, err = conn.CopyFrom(ctx, pgx.Identifier{"occupancy"}, occupancyColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				rec := records[i]
				return []any{building, rec.Room, rec.Date, rec.PairNumber, rec.IsFree, nullable(rec.GroupName)}, nil
			}))
		if err != nil {
			return fmt.Errorf("failed to insert occupancy: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *occupancyRepository) ListRooms(ctx context.Context, building string) ([]string, error) {
	query := `
		SELECT DISTINCT building, room FROM occupancy
		WHERE $1 = '' OR building = $1`

	return r.rooms(ctx, building, query, building)
}

func (r *occupancyRepository) ListOccupiedRooms(ctx context.Context, date time.Time, pair int, building string) ([]string, error) {
	query := `
		SELECT DISTINCT building, room FROM occupancy
		WHERE date = $1 AND pair_number = $2 AND NOT is_free
		  AND ($3 = '' OR building = $3)`

	return r.rooms(ctx, building, query, date, pair, building)
}

func (r *occupancyRepository) rooms(ctx context.Context, building, query string, args ...any) ([]string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var b, room string
		if err := rows.Scan(&b, &room); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		if building == "" {
			room = b + "-" + room
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rooms: %w", err)
	}
	return rooms, nil
}

func (r *occupancyRepository) ListBuildings(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT DISTINCT building FROM occupancy`)
	if err != nil {
		return nil, fmt.Errorf("failed to list buildings: %w", err)
	}
	buildings, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan buildings: %w", err)
	}
	models.SortBuildings(buildings)
	return buildings, nil
}
