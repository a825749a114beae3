package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// PlayRecord is one row of play history.
type PlayRecord struct {
	ID       string         `json:"id"`
	Backend  models.Backend `json:"backend"`
	SongID   string         `json:"song_id"`
	Title    string         `json:"title"`
	Artist   string         `json:"artist"`
	Album    string         `json:"album"`
	PlayedAt time.Time      `json:"played_at"`
}

// Song rebuilds a minimal unplayable [models.Song] for display.
func (p PlayRecord) Song() models.Song {
	return models.NewSong(p.Backend, p.SongID, p.Title, p.Artist, p.Album, 0, 0)
}

// HistoryRepository records songs as the player starts them.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordPlay appends song to the history.
func (r *HistoryRepository) RecordPlay(ctx context.Context, song models.Song, at time.Time) error {
	if song.ID == "" {
		return fmt.Errorf("%w: song id is required", shared.ErrMissingArgument)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO play_history (id, backend, song_id, title, artist, album, played_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		shared.GenerateID(), song.Backend, song.ID, song.Title, song.Artist, song.Album, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A backend filter of "" matches all.
func (r *HistoryRepository) Recent(ctx context.Context, backend models.Backend, limit int) ([]PlayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, backend, song_id, title, artist, album, played_at FROM play_history`
	args := []any{}
	if backend != "" {
		query += " WHERE backend = ?"
		args = append(args, string(backend))
	}
	query += " ORDER BY played_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []PlayRecord{}
	for rows.Next() {
		var (
			p       PlayRecord
			backend string
		)
		if err := rows.Scan(&p.ID, &backend, &p.SongID, &p.Title, &p.Artist, &p.Album, &p.PlayedAt); err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		p.Backend = models.Backend(backend)
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Clear deletes history older than before. A zero time deletes everything.
func (r *HistoryRepository) Clear(ctx context.Context, before time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if before.IsZero() {
		res, err = r.db.ExecContext(ctx, `DELETE FROM play_history`)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM play_history WHERE played_at < ?`, before.UTC())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}
