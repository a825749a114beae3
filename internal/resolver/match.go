package resolver

import (
	"slices"
	"strings"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// EqualFold reports whether a and b are equal after normalization. Empty names never match.
func EqualFold(a, b string) bool {
	na, nb := shared.NormalizeName(a), shared.NormalizeName(b)
	return na != "" && na == nb
}

// ContainsEither reports whether either normalized string contains the other. Empty names never match.
func ContainsEither(a, b string) bool {
	na, nb := shared.NormalizeName(a), shared.NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// ArtistMatches reports equality or containment between two artist credits.
//
// An album without an artist accepts any song artist.
func ArtistMatches(songArtist, albumArtist string) bool {
	if shared.NormalizeName(albumArtist) == "" {
		return true
	}
	return EqualFold(songArtist, albumArtist) || ContainsEither(songArtist, albumArtist)
}

func filter(songs []models.Song, keep func(models.Song) bool) []models.Song {
	out := []models.Song{}
	for _, s := range songs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// MatchAlbum applies rules 1 and 2 for an album container.
func MatchAlbum(songs []models.Song, name, artist string) []models.Song {
	if exact := filter(songs, func(s models.Song) bool { return EqualFold(s.Album, name) }); len(exact) > 0 {
		return exact
	}
	return filter(songs, func(s models.Song) bool {
		return ContainsEither(s.Album, name) && ArtistMatches(s.Artist, artist)
	})
}

// MatchArtist applies rules 1 and 2 for an artist container.
func MatchArtist(songs []models.Song, name string) []models.Song {
	if exact := filter(songs, func(s models.Song) bool { return EqualFold(s.Artist, name) }); len(exact) > 0 {
		return exact
	}
	return filter(songs, func(s models.Song) bool { return ContainsEither(s.Artist, name) })
}

// MatchPlaylist applies rules 1 and 2 to the song album field against the playlist name.
//
// Home servers often expose folder-backed playlists named after the album they hold.
func MatchPlaylist(songs []models.Song, name string) []models.Song {
	if exact := filter(songs, func(s models.Song) bool { return EqualFold(s.Album, name) }); len(exact) > 0 {
		return exact
	}
	return filter(songs, func(s models.Song) bool { return ContainsEither(s.Album, name) })
}

// SortByTrack returns a copy of songs stably ordered by track number. A missing track sorts as 0.
func SortByTrack(songs []models.Song) []models.Song {
	sorted := slices.Clone(songs)
	if sorted == nil {
		sorted = []models.Song{}
	}
	slices.SortStableFunc(sorted, func(a, b models.Song) int { return a.Track - b.Track })
	return sorted
}
