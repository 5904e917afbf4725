package repositories

import (
	"context"
	"fmt"

	"github.com/piculi-bot/piculi-engine/pkg/database"
)

// BotSettingRepository stores the key/value feature flags of the chat front end.
type BotSettingRepository interface {
	// EnsureDefaults inserts missing keys. Existing values are kept.
	EnsureDefaults(ctx context.Context, defaults map[string]string) error
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type botSettingRepository struct {
	db *database.DB
}

// NewBotSettingRepository creates a new bot setting repository.
func NewBotSettingRepository(db *database.DB) BotSettingRepository {
	return &botSettingRepository{db: db}
}

var _ BotSettingRepository = (*botSettingRepository)(nil)

func (r *botSettingRepository) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	keys := make([]string, 0, len(defaults))
	values := make([]string, 0, len(defaults))
	for k, v := range defaults {
		keys = append(keys, k)
		values = append(values, v)
	}

	query := `
		INSERT INTO bot_settings (key, value)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (key) DO NOTHING`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, keys, values); err != nil {
		return fmt.Errorf("failed to seed bot settings: %w", err)
	}
	return nil
}

func (r *botSettingRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT key, value FROM bot_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan bot setting: %w", err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func (r *botSettingRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO bot_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set bot setting %q: %w", key, err)
	}
	return nil
}
