package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

var (
	_ list.Item = albumItem{}
	_ list.Item = artistItem{}
	_ list.Item = playlistItem{}
	_ list.Item = songItem{}
)

type albumItem struct{ album models.Album }

func (i albumItem) FilterValue() string { return i.album.Name + " " + i.album.Artist }
func (i albumItem) Title() string       { return i.album.Name }
func (i albumItem) Description() string {
	if i.album.SongCount > 0 {
		return fmt.Sprintf("%s • %d songs", i.album.Artist, i.album.SongCount)
	}
	return i.album.Artist
}

type artistItem struct{ artist models.Artist }

func (i artistItem) FilterValue() string { return i.artist.Name }
func (i artistItem) Title() string       { return i.artist.Name }
func (i artistItem) Description() string { return i.artist.AlbumHint }

type playlistItem struct{ playlist models.Playlist }

func (i playlistItem) FilterValue() string { return i.playlist.Name }
func (i playlistItem) Title() string       { return i.playlist.Name }
func (i playlistItem) Description() string {
	desc := fmt.Sprintf("%d songs", i.playlist.SongCount)
	if i.playlist.Curator != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.playlist.Curator)
	}
	return desc
}

type songItem struct{ song models.Song }

func (i songItem) FilterValue() string { return i.song.Title }
func (i songItem) Title() string {
	if !i.song.Playable() {
		return i.song.Title + " (unavailable)"
	}
	return i.song.Title
}
func (i songItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.song.Artist, shared.FormatDuration(i.song.Duration))
	if i.song.Album != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.song.Album)
	}
	return desc
}
