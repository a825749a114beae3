package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/polyplay/internal/shared"
)

// Backend tags the music source an entity came from.
type Backend string

const (
	BackendCatalog      Backend = "catalog"
	BackendAudioStation Backend = "audiostation"
	BackendSubsonic     Backend = "subsonic"
	BackendLocal        Backend = "local"
)

// Backends lists every supported [Backend] in display order.
var Backends = []Backend{BackendCatalog, BackendAudioStation, BackendSubsonic, BackendLocal}

func (b Backend) String() string {
	return string(b)
}

// ParseBackend converts a user supplied tag to a [Backend].
func ParseBackend(s string) (Backend, error) {
	tag := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, b := range Backends {
		if b == tag {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %q", shared.ErrUnknownBackend, s)
}

// SyntheticID derives a deterministic identity from the normalized artist and title.
//
// Repeated calls with inputs that differ only in case or whitespace return the same value.
func SyntheticID(backend Backend, artist, title string) string {
	return fmt.Sprintf("%s:%s|%s", backend, shared.NormalizeName(artist), shared.NormalizeName(title))
}

// Song is a backend-agnostic track.
//
// Duration is in seconds and never negative. A zero Track means the backend did not report one.
// A Song with an empty StreamURL cannot be played.
type Song struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	Duration   int     `json:"duration"`
	Track      int     `json:"track,omitempty"`
	ArtworkURL string  `json:"artwork_url,omitempty"`
	StreamURL  string  `json:"stream_url,omitempty"`
	Backend    Backend `json:"backend"`
	Native     any     `json:"-"`
}

// NewSong builds a [Song] and clamps a negative duration to zero.
func NewSong(backend Backend, id, title, artist, album string, duration, track int) Song {
	if duration < 0 {
		duration = 0
	}
	if track < 0 {
		track = 0
	}
	return Song{
		ID:       id,
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: duration,
		Track:    track,
		Backend:  backend,
	}
}

// Playable reports whether the song has a stream reference.
func (s Song) Playable() bool {
	return s.StreamURL != ""
}

// WithArtwork returns a copy of s with the given artwork URL.
func (s Song) WithArtwork(url string) Song {
	s.ArtworkURL = url
	return s
}

// WithStream returns a copy of s with the given stream URL.
func (s Song) WithStream(url string) Song {
	s.StreamURL = url
	return s
}

// WithNative returns a copy of s carrying a backend-specific payload.
func (s Song) WithNative(native any) Song {
	s.Native = native
	return s
}

// Key returns the normalized "title|artist" key used for display deduplication.
func (s Song) Key() string {
	return shared.NormalizeTrackKey(s.Title, s.Artist)
}

func aggregate(songs []Song) ([]Song, int, int) {
	copied := make([]Song, len(songs))
	copy(copied, songs)
	total := 0
	for _, s := range copied {
		total += s.Duration
	}
	return copied, len(copied), total
}

// Album groups songs released together. Secondary text is the album artist.
type Album struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Artist     string  `json:"artist"`
	SongCount  int     `json:"song_count"`
	Duration   int     `json:"duration"`
	ArtworkURL string  `json:"artwork_url,omitempty"`
	Songs      []Song  `json:"songs,omitempty"`
	Backend    Backend `json:"backend"`
	Native     any     `json:"-"`
}

// WithSongs returns a copy of a holding songs, with count and duration recomputed.
func (a Album) WithSongs(songs []Song) Album {
	a.Songs, a.SongCount, a.Duration = aggregate(songs)
	return a
}

// WithArtwork returns a copy of a with the given artwork URL.
func (a Album) WithArtwork(url string) Album {
	a.ArtworkURL = url
	return a
}

// Playlist is a curated ordered song list. Secondary text is the curator.
type Playlist struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Curator   string  `json:"curator,omitempty"`
	SongCount int     `json:"song_count"`
	Duration  int     `json:"duration"`
	Songs     []Song  `json:"songs,omitempty"`
	Backend   Backend `json:"backend"`
	Native    any     `json:"-"`
}

// WithSongs returns a copy of p holding songs, with count and duration recomputed.
func (p Playlist) WithSongs(songs []Song) Playlist {
	p.Songs, p.SongCount, p.Duration = aggregate(songs)
	return p
}

// Artist groups every song credited to one performer.
type Artist struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AlbumHint string  `json:"album_hint,omitempty"`
	SongCount int     `json:"song_count"`
	Duration  int     `json:"duration"`
	Songs     []Song  `json:"songs,omitempty"`
	Backend   Backend `json:"backend"`
	Native    any     `json:"-"`
}

// WithSongs returns a copy of a holding songs, with count and duration recomputed.
func (a Artist) WithSongs(songs []Song) Artist {
	a.Songs, a.SongCount, a.Duration = aggregate(songs)
	return a
}

// SearchResults is the union of entities returned by a backend search.
type SearchResults struct {
	Songs   []Song   `json:"songs"`
	Albums  []Album  `json:"albums"`
	Artists []Artist `json:"artists"`
}

// Empty reports whether the search produced nothing at all.
func (r *SearchResults) Empty() bool {
	return r == nil || (len(r.Songs) == 0 && len(r.Albums) == 0 && len(r.Artists) == 0)
}
