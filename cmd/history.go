package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/urfave/cli/v3"
)

// History lists recently played songs, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}

	var backend models.Backend
	if name := cmd.String("backend"); name != "" {
		if backend, err = models.ParseBackend(name); err != nil {
			return err
		}
	}

	records, err := store.History.Recent(ctx, backend, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, cmd.Bool("pretty"))
	}
	if len(records) == 0 {
		return r.writePlain("Nothing played yet\n")
	}
	for _, rec := range records {
		r.writePlain("%s  %-12s %s - %s\n", rec.PlayedAt.Local().Format("2006-01-02 15:04"), rec.Backend, rec.Artist, rec.Title)
	}
	return nil
}

// HistoryClear deletes play history, optionally keeping recent entries.
func (r *Runner) HistoryClear(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}

	var before time.Time
	if d := cmd.Duration("older-than"); d > 0 {
		before = time.Now().Add(-d)
	}
	n, err := store.History.Clear(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return r.writePlain("✓ Removed %d entries\n", n)
}
