// Package ui implements the interactive player on bubbletea's Elm architecture.
//
// The [Model] has two views:
//  1. [LibraryView] : albums, artists and playlists of the active backend, one tab each
//  2. [SongsView] : the songs of the selected container
//
// A now-playing bar is drawn under both views. It is fed by a publisher subscription, so the
// screen updates on every state transition and once a second while a song plays.
//
// Keyboard navigation uses vim-style bindings with contextual help from charmbracelet/bubbles/help.
package ui
