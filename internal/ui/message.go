package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/nowplaying"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgLibraryFetched MsgKind = iota
	MsgSongsFetched
	MsgSnapshot
	MsgSubscriptionClosed
	MsgCommandDone
	MsgBackendSwitched
)

type libraryData struct {
	tab       Tab
	albums    []models.Album
	artists   []models.Artist
	playlists []models.Playlist
	err       error
}

type songsData struct {
	title string
	songs []models.Song
	err   error
}

func libraryFetchedMsg(d libraryData) Msg { return Msg{kind: MsgLibraryFetched, data: d} }

func songsFetchedMsg(title string, songs []models.Song, err error) Msg {
	return Msg{kind: MsgSongsFetched, data: songsData{title: title, songs: songs, err: err}}
}

func snapshotMsg(s nowplaying.Snapshot, ok bool) Msg {
	if !ok {
		return Msg{kind: MsgSubscriptionClosed}
	}
	return Msg{kind: MsgSnapshot, data: s}
}

func commandDoneMsg(err error) Msg { return Msg{kind: MsgCommandDone, data: err} }

type switchData struct {
	backend models.Backend
	err     error
}

func backendSwitchedMsg(b models.Backend, err error) Msg {
	return Msg{kind: MsgBackendSwitched, data: switchData{backend: b, err: err}}
}
