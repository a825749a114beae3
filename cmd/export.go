package main

import (
	"context"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/desertthunder/polyplay/internal/formatter"
	"github.com/desertthunder/polyplay/internal/tasks"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v3"
)

// Export writes every album or playlist of the active backend to files.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	c, err := r.controller(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	exporter := tasks.NewExporter(c, nil, r.httpClient, r.logger)
	opts := tasks.ExportOpts{
		Kind:      cmd.String("kind"),
		Format:    format,
		OutputDir: cmd.String("output"),
		Names:     cmd.StringSlice("name"),
		Workers:   cmd.Int("workers"),
		RateLimit: cfg.Playback.RateLimit,
	}

	updates := make(chan tasks.ProgressUpdate, 32)
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))

	var wg conc.WaitGroup
	wg.Go(func() {
		for u := range updates {
			switch u.Phase {
			case tasks.WriteFiles, tasks.ExportFailed:
				pct := float64(u.Step) / float64(max(u.Total, 1))
				r.writePlain("%s %d/%d %s\n", bar.ViewAs(pct), u.Step, u.Total, u.Message)
			case tasks.FetchContainers, tasks.WriteManifest:
				r.writePlain("→ %s\n", u.Message)
			}
		}
	})

	result, err := exporter.Export(ctx, updates, opts)
	close(updates)
	wg.Wait()
	if err != nil {
		return err
	}

	r.writePlainln("✓ Exported %d of %d %ss from %s to %s", result.Succeeded, result.Total, result.Kind, result.Backend, result.OutputDirectory)
	if result.Failed > 0 {
		r.writePlain("⚠ %d failed, see %s\n", result.Failed, result.ManifestPath)
	}
	return nil
}
