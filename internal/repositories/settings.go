package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// SettingsRepository implements [models.Repository] for [models.Setting].
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

const settingColumns = `id, backend, key, value, created_at, updated_at`

// Create inserts a setting with a generated ID. A second setting for the same backend and key
// violates the unique constraint; use [SettingsRepository.Put] to upsert.
func (r *SettingsRepository) Create(setting *models.Setting) error {
	if err := setting.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	setting.SetID(shared.GenerateID())

	_, err := r.db.Exec(
		`INSERT INTO settings (`+settingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		setting.ID(), setting.Backend(), setting.Key(), setting.Value(), setting.CreatedAt(), setting.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert setting: %w", err)
	}
	return nil
}

func (r *SettingsRepository) Get(id string) (*models.Setting, error) {
	return scanSetting(r.db.QueryRow(`SELECT `+settingColumns+` FROM settings WHERE id = ?`, id), id)
}

// GetByKey returns the setting for backend and key.
func (r *SettingsRepository) GetByKey(ctx context.Context, backend models.Backend, key string) (*models.Setting, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+settingColumns+` FROM settings WHERE backend = ? AND key = ?`, backend, key)
	return scanSetting(row, fmt.Sprintf("%s.%s", backend, key))
}

func (r *SettingsRepository) Update(setting *models.Setting) error {
	if err := setting.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()
	setting.SetUpdatedAt(now)

	res, err := r.db.Exec(`UPDATE settings SET value = ?, updated_at = ? WHERE id = ?`, setting.Value(), now, setting.ID())
	if err != nil {
		return fmt.Errorf("failed to update setting: %w", err)
	}
	return affected(res, "setting", setting.ID())
}

// Delete removes a setting by ID. Settings are not soft-deleted: a removed override should fall
// back to config.toml immediately.
func (r *SettingsRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return affected(res, "setting", id)
}

// List filters on the "backend" criterion when present.
func (r *SettingsRepository) List(criteria map[string]any) ([]*models.Setting, error) {
	query := `SELECT ` + settingColumns + ` FROM settings`
	args := []any{}

	switch b := criteria["backend"].(type) {
	case models.Backend:
		query += " WHERE backend = ?"
		args = append(args, string(b))
	case string:
		if b != "" {
			query += " WHERE backend = ?"
			args = append(args, b)
		}
	}
	query += " ORDER BY backend ASC, key ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		s, err := scanSetting(rows, "")
		if err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return settings, nil
}

// Put inserts or replaces the value for backend and key.
func (r *SettingsRepository) Put(ctx context.Context, backend models.Backend, key, value string) error {
	s := models.NewSetting(backend, key, value)
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE settings SET value = ?, updated_at = ? WHERE backend = ? AND key = ?`,
			s.Value(), s.UpdatedAt(), s.Backend(), s.Key(),
		)
		if err != nil {
			return fmt.Errorf("failed to update setting: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO settings (`+settingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			shared.GenerateID(), s.Backend(), s.Key(), s.Value(), s.CreatedAt(), s.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert setting: %w", err)
		}
		return nil
	})
}

// Unset removes the value for backend and key. Missing keys are not an error.
func (r *SettingsRepository) Unset(ctx context.Context, backend models.Backend, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE backend = ? AND key = ?`, backend, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

// ForBackend returns every stored value for backend as a map.
func (r *SettingsRepository) ForBackend(ctx context.Context, backend string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE backend = ?`, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return values, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSetting(row scanner, id string) (*models.Setting, error) {
	var (
		settingID string
		backend   string
		key       string
		value     string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&settingID, &backend, &key, &value, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: setting %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan setting: %w", err)
	}
	return models.RestoreSetting(settingID, models.Backend(backend), key, value, createdAt, updatedAt), nil
}

var _ models.Repository[*models.Setting] = (*SettingsRepository)(nil)
