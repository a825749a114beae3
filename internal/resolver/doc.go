// Package resolver finds the songs that belong to an album, artist, or playlist on backends
// that do not link containers to songs.
//
// # Match Rules
//
// Rules are tried in order and the first non-empty result wins:
//
//  1. Exact case-insensitive equality of the song's album (artist, for an artist container) with the container name.
//  2. Case-insensitive containment in either direction. Album matches also require the song artist to
//     equal or contain (or be contained by) the album artist.
//  3. Playlists only: a free-text search using the playlist name, accepting whatever the backend returns.
//
// The rule functions ([MatchAlbum], [MatchArtist], [MatchPlaylist]) are pure and hold no state.
//
// # Artist Query Matrix
//
// Before filtering the bulk song list for an artist, [Engine.ResolveArtist] asks the [Source] for songs
// using each [QueryShape] in [ArtistMatrix], one after another. The first shape that returns a non-empty
// list without error is used and the rest are skipped.
//
// # Empty Results
//
// A container that cannot be resolved produces an empty, non-nil slice and a nil error.
// Callers cannot tell an empty container from a heuristic miss.
package resolver
