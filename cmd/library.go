package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/player"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sahilm/fuzzy"
	"github.com/urfave/cli/v3"
)

// target is one album, artist or playlist picked on the command line.
type target struct {
	kind  string
	name  string
	songs func(ctx context.Context) ([]models.Song, error)
	play  func(ctx context.Context) (int, error)
}

// pickByName finds query among names: an exact match after normalization wins, then the best
// fuzzy match.
func pickByName(names []string, query string) (int, error) {
	want := shared.NormalizeName(query)
	for i, n := range names {
		if shared.NormalizeName(n) == want {
			return i, nil
		}
	}
	if matches := fuzzy.Find(query, names); len(matches) > 0 {
		return matches[0].Index, nil
	}
	return -1, fmt.Errorf("%w: nothing named %q", shared.ErrEntityNotFound, query)
}

// findTarget resolves the --album, --artist or --playlist flag against the active backend.
func findTarget(ctx context.Context, c *player.Controller, cmd *cli.Command) (*target, error) {
	set := 0
	for _, f := range []string{"album", "artist", "playlist"} {
		if cmd.String(f) != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, fmt.Errorf("%w: one of --album, --artist or --playlist", shared.ErrMissingArgument)
	case set > 1:
		return nil, fmt.Errorf("%w: only one of --album, --artist or --playlist", shared.ErrInvalidArgument)
	}

	switch {
	case cmd.String("album") != "":
		albums, err := c.BrowseAlbums(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(albums))
		for i, a := range albums {
			names[i] = a.Name
		}
		i, err := pickByName(names, cmd.String("album"))
		if err != nil {
			return nil, err
		}
		a := albums[i]
		return &target{
			kind:  "album",
			name:  a.Name,
			songs: func(ctx context.Context) ([]models.Song, error) { return c.SongsForAlbum(ctx, a) },
			play:  func(ctx context.Context) (int, error) { return c.PlayAlbum(ctx, a) },
		}, nil

	case cmd.String("artist") != "":
		artists, err := c.BrowseArtists(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(artists))
		for i, a := range artists {
			names[i] = a.Name
		}
		i, err := pickByName(names, cmd.String("artist"))
		if err != nil {
			return nil, err
		}
		a := artists[i]
		return &target{
			kind:  "artist",
			name:  a.Name,
			songs: func(ctx context.Context) ([]models.Song, error) { return c.SongsForArtist(ctx, a) },
			play:  func(ctx context.Context) (int, error) { return c.PlayArtist(ctx, a) },
		}, nil

	default:
		playlists, err := c.BrowsePlaylists(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(playlists))
		for i, p := range playlists {
			names[i] = p.Name
		}
		i, err := pickByName(names, cmd.String("playlist"))
		if err != nil {
			return nil, err
		}
		p := playlists[i]
		return &target{
			kind:  "playlist",
			name:  p.Name,
			songs: func(ctx context.Context) ([]models.Song, error) { return c.SongsForPlaylist(ctx, p) },
			play:  func(ctx context.Context) (int, error) { return c.PlayPlaylist(ctx, p) },
		}, nil
	}
}

// Browse lists albums, artists or playlists depending on the subcommand name.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	c, err := r.controller(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer c.Close()

	limit := cmd.Int("limit")
	useJSON, pretty := cmd.Bool("json"), cmd.Bool("pretty")
	r.logger.Infof("listing %s from %s", cmd.Name, c.Active())

	var rows []string
	var data any
	switch cmd.Name {
	case "albums":
		albums, err := c.BrowseAlbums(ctx)
		if err != nil {
			return err
		}
		albums = clip(albums, limit)
		data = albums
		for _, a := range albums {
			rows = append(rows, fmt.Sprintf("%s - %s (%d songs)", a.Name, a.Artist, a.SongCount))
		}
	case "artists":
		artists, err := c.BrowseArtists(ctx)
		if err != nil {
			return err
		}
		artists = clip(artists, limit)
		data = artists
		for _, a := range artists {
			rows = append(rows, a.Name)
		}
	case "playlists":
		playlists, err := c.BrowsePlaylists(ctx)
		if err != nil {
			return err
		}
		playlists = clip(playlists, limit)
		data = playlists
		for _, p := range playlists {
			row := fmt.Sprintf("%s (%d songs)", p.Name, p.SongCount)
			if p.Curator != "" {
				row += " by " + p.Curator
			}
			rows = append(rows, row)
		}
	default:
		return fmt.Errorf("%w: %s", shared.ErrInvalidArgument, cmd.Name)
	}

	if useJSON {
		return r.writeJSON(data, pretty)
	}

	r.writePlain("Found %d %s on %s:\n\n", len(rows), cmd.Name, c.Active())
	for i, row := range rows {
		r.writePlain("%d. %s\n", i+1, row)
	}
	return nil
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && limit < len(items) {
		return items[:limit]
	}
	return items
}

// Songs resolves one container and lists its songs.
func (r *Runner) Songs(ctx context.Context, cmd *cli.Command) error {
	c, err := r.controller(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer c.Close()

	t, err := findTarget(ctx, c, cmd)
	if err != nil {
		return err
	}
	songs, err := t.songs(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(songs, cmd.Bool("pretty"))
	}

	total := 0
	for _, s := range songs {
		total += s.Duration
	}
	r.writePlainHeader(fmt.Sprintf("%s: %s", t.kind, t.name))
	r.writePlain("%d songs, %s\n\n", len(songs), shared.FormatDuration(total))
	writeSongs(r, songs)
	return nil
}

func writeSongs(r *Runner, songs []models.Song) {
	for i, s := range songs {
		r.writePlain("%d. %s - %s [%s]", i+1, s.Artist, s.Title, shared.FormatDuration(s.Duration))
		if !s.Playable() {
			r.writePlain(" (unavailable)")
		}
		r.writePlain("\n")
	}
}

// Search queries the active backend.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}

	c, err := r.controller(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Search(ctx, query)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}
	if res.Empty() {
		return r.writePlain("No results for %q on %s\n", query, c.Active())
	}

	if len(res.Songs) > 0 {
		r.writePlain("Songs:\n")
		writeSongs(r, res.Songs)
	}
	if len(res.Albums) > 0 {
		r.writePlainln("Albums:")
		for i, a := range res.Albums {
			r.writePlain("%d. %s - %s\n", i+1, a.Name, a.Artist)
		}
	}
	if len(res.Artists) > 0 {
		r.writePlainln("Artists:")
		for i, a := range res.Artists {
			r.writePlain("%d. %s\n", i+1, a.Name)
		}
	}
	return nil
}
