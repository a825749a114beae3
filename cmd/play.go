package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/polyplay/internal/nowplaying"
	"github.com/desertthunder/polyplay/internal/player"
	"github.com/desertthunder/polyplay/internal/queue"
	"github.com/desertthunder/polyplay/internal/server"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/desertthunder/polyplay/internal/ui"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v3"
)

// serveRemote exposes the publisher over HTTP and WebSocket until ctx is done.
func (r *Runner) serveRemote(ctx context.Context, wg *conc.WaitGroup, c *player.Controller, addr string) {
	remote := server.NewRemoteHandler(c.Publisher(), r.logger)
	c.Publisher().SetDelegate(remote)

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(remote)

	srv := server.NewServer(addr, router, r.logger)
	wg.Go(func() {
		defer remote.Close()
		if err := srv.Run(ctx); err != nil {
			r.logger.Error("remote control server stopped", "error", err)
		}
	})
	wg.Go(func() {
		select {
		case a := <-srv.Ready():
			r.logger.Infof("remote control at http://%s/nowplaying", a)
		case <-ctx.Done():
		}
	})
}

// Play resolves the requested container, queues it and prints each song as it starts. Without
// --listen the command returns when the queue finishes or playback is stopped.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	mode, err := queue.ParseRepeatMode(cmd.String("repeat"))
	if err != nil {
		return err
	}

	if cmd.Bool("tui") {
		if err := r.useFileLogger(cmd); err != nil {
			return err
		}
	}

	c, err := r.controller(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer c.Close()

	var wg conc.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Go(func() {
		if err := c.Run(ctx); err != nil {
			r.logger.Error("player stopped", "error", err)
		}
	})

	listen := cmd.String("listen")
	if listen != "" {
		r.serveRemote(ctx, &wg, c, listen)
	}

	t, err := findTarget(ctx, c, cmd)
	if err != nil {
		return err
	}

	updates, unsubscribe := c.Publisher().Subscribe()
	defer unsubscribe()

	n, err := t.play(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q has no songs", shared.ErrEntityNotFound, t.kind, t.name)
	}
	if cmd.Bool("shuffle") {
		if err := c.Dispatch(ctx, nowplaying.Command{Kind: nowplaying.CommandShuffle, Shuffle: true}); err != nil {
			return err
		}
	}
	if mode != queue.RepeatOff {
		if err := c.Dispatch(ctx, nowplaying.Command{Kind: nowplaying.CommandRepeat, Repeat: mode.String()}); err != nil {
			return err
		}
	}

	if cmd.Bool("tui") {
		return r.runTUI(ctx, c, updates)
	}

	r.writePlain("Playing %s %q on %s (%d songs)\n", t.kind, t.name, c.Active(), n)
	return r.follow(ctx, c, updates, listen != "")
}

// follow prints now-playing changes. It returns at the end of the queue unless keepAlive is set.
func (r *Runner) follow(ctx context.Context, c *player.Controller, updates <-chan nowplaying.Snapshot, keepAlive bool) error {
	lastSong, lastState := "", ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}

			if snap.Song != nil && snap.Song.ID != lastSong && snap.State == "playing" {
				lastSong = snap.Song.ID
				r.writePlain("▶ %s - %s [%s] (%d/%d)\n", snap.Song.Artist, snap.Song.Title,
					shared.FormatDuration(snap.Song.Duration), snap.QueuePosition+1, snap.QueueLength)
			}
			if snap.State == lastState {
				continue
			}
			lastState = snap.State

			switch snap.State {
			case "failed":
				r.writePlain("✗ %s\n", snap.Error)
				last := snap.QueuePosition+1 >= snap.QueueLength && snap.Repeat == queue.RepeatOff.String()
				if last {
					if keepAlive {
						continue
					}
					return fmt.Errorf("%w: %s", shared.ErrNotPlayable, snap.Error)
				}
				if err := c.Dispatch(ctx, nowplaying.Command{Kind: nowplaying.CommandNext}); err != nil {
					return err
				}
			case "finished", "stopped":
				if keepAlive {
					continue
				}
				r.writePlain("■ %s\n", snap.State)
				return nil
			}
		}
	}
}

// useFileLogger moves logging off the terminal the TUI draws on.
func (r *Runner) useFileLogger(cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.Playback.LogFile
	if path == "" {
		path = "./tmp/polyplay.log"
	}
	fileLogger, err := shared.NewFileLogger(shared.ExpandHome(path))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	return nil
}

func (r *Runner) runTUI(ctx context.Context, c *player.Controller, updates <-chan nowplaying.Snapshot) error {
	model := ui.NewModel(ctx, c, updates)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// TUI launches the interactive player on the active backend.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	if err := r.useFileLogger(cmd); err != nil {
		return err
	}

	c, err := r.controller(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer c.Close()

	var wg conc.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Go(func() {
		if err := c.Run(ctx); err != nil {
			r.logger.Error("player stopped", "error", err)
		}
	})
	if addr := cmd.String("listen"); addr != "" {
		r.serveRemote(ctx, &wg, c, addr)
	}

	updates, unsubscribe := c.Publisher().Subscribe()
	defer unsubscribe()
	return r.runTUI(ctx, c, updates)
}
