package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// ProcessedFileRepository is the content-hash ledger of remote documents.
type ProcessedFileRepository interface {
	// GetHash returns the last recorded hash for filename,
	// or apperrors.ErrNotFound when the document was never ingested.
	GetHash(ctx context.Context, filename string) (string, error)

	// Upsert records the hash of an ingested document and bumps last_updated.
	Upsert(ctx context.Context, filename, hash string, fileType models.FileType) error

	// Delete removes ledger rows, all of them when fileType is empty.
	Delete(ctx context.Context, fileType models.FileType) (int64, error)

	// Count returns the number of ledger rows per file type.
	Count(ctx context.Context) (map[models.FileType]int, error)
}

type processedFileRepository struct {
	db *database.DB
}

// NewProcessedFileRepository creates a new ledger repository.
func NewProcessedFileRepository(db *database.DB) ProcessedFileRepository {
	return &processedFileRepository{db: db}
}

var _ ProcessedFileRepository = (*processedFileRepository)(nil)

func (r *processedFileRepository) GetHash(ctx context.Context, filename string) (string, error) {
	var hash string
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT content_hash FROM processed_files WHERE filename = $1`, filename).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get file hash: %w", err)
	}
	return hash, nil
}

func (r *processedFileRepository) Upsert(ctx context.Context, filename, hash string, fileType models.FileType) error {
	query := `
		INSERT INTO processed_files (filename, content_hash, last_updated, file_type)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (filename) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
		    last_updated = EXCLUDED.last_updated,
		    file_type = EXCLUDED.file_type`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, filename, hash, string(fileType)); err != nil {
		return fmt.Errorf("failed to record file hash: %w", err)
	}
	return nil
}

func (r *processedFileRepository) Delete(ctx context.Context, fileType models.FileType) (int64, error) {
	query := `DELETE FROM processed_files WHERE $1 = '' OR file_type = $1`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, string(fileType))
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *processedFileRepository) Count(ctx context.Context) (map[models.FileType]int, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT file_type, COUNT(*) FROM processed_files GROUP BY file_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FileType]int)
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, fmt.Errorf("failed to scan ledger count: %w", err)
		}
		counts[models.FileType(ft)] = n
	}
	return counts, rows.Err()
}
