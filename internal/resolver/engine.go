package resolver

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// QueryShape names one way of asking a backend directly for an artist's songs.
type QueryShape int

const (
	ListByArtist QueryShape = iota
	SearchByArtist
	ListByArtistSorted
)

// ArtistMatrix is the order in which direct artist queries are attempted.
var ArtistMatrix = []QueryShape{ListByArtist, SearchByArtist, ListByArtistSorted}

func (q QueryShape) String() string {
	switch q {
	case ListByArtist:
		return "list_by_artist"
	case SearchByArtist:
		return "search_by_artist"
	case ListByArtistSorted:
		return "list_by_artist_sorted"
	default:
		return fmt.Sprintf("shape(%d)", int(q))
	}
}

// Source is the slice of a backend the [Engine] needs.
type Source interface {
	// ListAllSongs returns up to limit songs from the whole library.
	ListAllSongs(ctx context.Context, limit int) ([]models.Song, error)
	// QuerySongs asks the backend for an artist's songs using one parameter shape.
	QuerySongs(ctx context.Context, shape QueryShape, artist string) ([]models.Song, error)
	// SearchSongs runs a free-text song search.
	SearchSongs(ctx context.Context, query string) ([]models.Song, error)
}

// Engine resolves container membership against a [Source].
type Engine struct {
	source Source
	limit  int
	logger *log.Logger
}

// DefaultBulkLimit caps the bulk song listing when no limit is configured.
const DefaultBulkLimit = 5000

// NewEngine creates an [Engine]. A non-positive limit uses [DefaultBulkLimit]; a nil logger uses the default.
func NewEngine(source Source, limit int, logger *log.Logger) *Engine {
	if limit <= 0 {
		limit = DefaultBulkLimit
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Engine{source: source, limit: limit, logger: logger}
}

func (e *Engine) bulk(ctx context.Context) ([]models.Song, error) {
	songs, err := e.source.ListAllSongs(ctx, e.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	return songs, nil
}

// ResolveAlbum returns the album's songs ordered by track number.
func (e *Engine) ResolveAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	songs, err := e.bulk(ctx)
	if err != nil {
		return nil, err
	}

	matched := SortByTrack(MatchAlbum(songs, album.Name, album.Artist))
	e.logger.Debug("resolved album", "album", album.Name, "artist", album.Artist, "candidates", len(songs), "matched", len(matched))
	return matched, nil
}

// ResolveArtist tries each shape in [ArtistMatrix] in order, then filters the bulk list.
//
// Backend order is preserved.
func (e *Engine) ResolveArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	for _, shape := range ArtistMatrix {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
		}

		songs, err := e.source.QuerySongs(ctx, shape, artist.Name)
		if err != nil {
			e.logger.Debug("artist query failed", "shape", shape, "artist", artist.Name, "error", err)
			continue
		}
		if len(songs) > 0 {
			e.logger.Debug("resolved artist", "shape", shape, "artist", artist.Name, "matched", len(songs))
			return songs, nil
		}
	}

	songs, err := e.bulk(ctx)
	if err != nil {
		return nil, err
	}

	matched := MatchArtist(songs, artist.Name)
	e.logger.Debug("resolved artist from bulk list", "artist", artist.Name, "matched", len(matched))
	return matched, nil
}

// ResolvePlaylist filters the bulk list by name, falling back to a search on the playlist name.
func (e *Engine) ResolvePlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	songs, err := e.bulk(ctx)
	if err != nil {
		return nil, err
	}

	if matched := MatchPlaylist(songs, playlist.Name); len(matched) > 0 {
		return matched, nil
	}

	found, err := e.source.SearchSongs(ctx, playlist.Name)
	if err != nil {
		return nil, fmt.Errorf("playlist search failed: %w", err)
	}
	if found == nil {
		found = []models.Song{}
	}
	e.logger.Debug("resolved playlist by search", "playlist", playlist.Name, "matched", len(found))
	return found, nil
}
