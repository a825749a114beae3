package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/nowplaying"
	"github.com/desertthunder/polyplay/internal/queue"
	"github.com/desertthunder/polyplay/internal/shared"
)

// seekStep is how far the arrow keys move, in seconds.
const seekStep = 10

// Player is what the TUI drives. [player.Controller] satisfies it.
type Player interface {
	Active() models.Backend
	Backends() []models.Backend
	SwitchBackend(ctx context.Context, b models.Backend) error
	BrowseAlbums(ctx context.Context) ([]models.Album, error)
	BrowseArtists(ctx context.Context) ([]models.Artist, error)
	BrowsePlaylists(ctx context.Context) ([]models.Playlist, error)
	SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error)
	SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error)
	SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error)
	PlaySongs(ctx context.Context, songs []models.Song, start int) (int, error)
	Dispatch(ctx context.Context, cmd nowplaying.Command) error
}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LibraryView ViewState = iota
	SongsView
)

// Tab selects the library category.
type Tab int

const (
	AlbumsTab Tab = iota
	ArtistsTab
	PlaylistsTab
)

var tabNames = []string{"Albums", "Artists", "Playlists"}

func (t Tab) String() string { return tabNames[t] }

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	player   Player
	updates  <-chan nowplaying.Snapshot
	view     ViewState
	tab      Tab
	width    int
	height   int
	library  list.Model
	songs    list.Model
	snapshot nowplaying.Snapshot
	status   string
	bar      progress.Model
	help     help.Model
	keys     keyMap
}

// NewModel creates the TUI. updates is a publisher subscription; it may be nil.
func NewModel(ctx context.Context, p Player, updates <-chan nowplaying.Snapshot) *Model {
	newList := func() list.Model {
		l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
		l.SetShowHelp(false)
		return l
	}
	return &Model{
		ctx:     ctx,
		player:  p,
		updates: updates,
		library: newList(),
		songs:   newList(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init loads the first library tab and starts listening for snapshots.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchLibrary(m.tab), m.waitForSnapshot())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.library.SetSize(msg.Width-4, msg.Height-10)
		m.songs.SetSize(msg.Width-4, msg.Height-10)
		m.bar.Width = max(10, msg.Width-24)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		return m.handleMsg(msg)
	}
	return m.updateList(msg)
}

func (m *Model) current() *list.Model {
	if m.view == SongsView {
		return &m.songs
	}
	return &m.library
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	l := m.current()
	var cmd tea.Cmd
	*l, cmd = l.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.current().FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	snap := m.snapshot
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggle):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandToggle})
	case key.Matches(msg, m.keys.next):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandNext})
	case key.Matches(msg, m.keys.previous):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandPrevious})
	case key.Matches(msg, m.keys.stop):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandStop})
	case key.Matches(msg, m.keys.forward):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandSeek, Position: snap.Elapsed + seekStep})
	case key.Matches(msg, m.keys.rewind):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandSeek, Position: max(0, snap.Elapsed-seekStep)})
	case key.Matches(msg, m.keys.shuffle):
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandShuffle, Shuffle: !snap.Shuffle})
	case key.Matches(msg, m.keys.repeat):
		mode, _ := queue.ParseRepeatMode(snap.Repeat)
		return m, m.dispatch(nowplaying.Command{Kind: nowplaying.CommandRepeat, Repeat: mode.Next().String()})
	case key.Matches(msg, m.keys.backend):
		return m, m.switchBackend()
	case key.Matches(msg, m.keys.tab) && m.view == LibraryView:
		m.tab = (m.tab + 1) % Tab(len(tabNames))
		return m, m.fetchLibrary(m.tab)
	case key.Matches(msg, m.keys.back) && m.view == SongsView:
		m.view = LibraryView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if m.view == LibraryView {
			return m, m.fetchSongs(m.library.SelectedItem())
		}
		return m, m.playFrom(m.songs.Index())
	}
	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgLibraryFetched:
		d := msg.data.(libraryData)
		if d.err != nil {
			m.status = shared.UserMessage(d.err)
			return m, nil
		}
		if d.tab != m.tab {
			return m, nil
		}
		m.status = ""
		var items []list.Item
		switch d.tab {
		case AlbumsTab:
			for _, a := range d.albums {
				items = append(items, albumItem{album: a})
			}
		case ArtistsTab:
			for _, a := range d.artists {
				items = append(items, artistItem{artist: a})
			}
		case PlaylistsTab:
			for _, p := range d.playlists {
				items = append(items, playlistItem{playlist: p})
			}
		}
		m.library.Title = fmt.Sprintf("%s %s", m.player.Active(), d.tab)
		return m, m.library.SetItems(items)

	case MsgSongsFetched:
		d := msg.data.(songsData)
		if d.err != nil {
			m.status = shared.UserMessage(d.err)
			return m, nil
		}
		items := make([]list.Item, len(d.songs))
		for i, s := range d.songs {
			items[i] = songItem{song: s}
		}
		m.status = ""
		m.songs.Title = d.title
		m.songs.ResetSelected()
		m.view = SongsView
		return m, m.songs.SetItems(items)

	case MsgSnapshot:
		m.snapshot = msg.data.(nowplaying.Snapshot)
		return m, m.waitForSnapshot()

	case MsgSubscriptionClosed:
		m.updates = nil
		return m, nil

	case MsgCommandDone:
		if err, _ := msg.data.(error); err != nil {
			m.status = shared.UserMessage(err)
		} else {
			m.status = ""
		}
		return m, nil

	case MsgBackendSwitched:
		d := msg.data.(switchData)
		if d.err != nil {
			m.status = shared.UserMessage(d.err)
			return m, nil
		}
		m.status = fmt.Sprintf("Switched to %s", d.backend)
		m.view = LibraryView
		return m, m.fetchLibrary(m.tab)
	}
	return m, nil
}

func (m *Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-updates
		return snapshotMsg(snap, ok)
	}
}

func (m *Model) fetchLibrary(tab Tab) tea.Cmd {
	return func() tea.Msg {
		d := libraryData{tab: tab}
		switch tab {
		case AlbumsTab:
			d.albums, d.err = m.player.BrowseAlbums(m.ctx)
		case ArtistsTab:
			d.artists, d.err = m.player.BrowseArtists(m.ctx)
		case PlaylistsTab:
			d.playlists, d.err = m.player.BrowsePlaylists(m.ctx)
		}
		return libraryFetchedMsg(d)
	}
}

func (m *Model) fetchSongs(item list.Item) tea.Cmd {
	if item == nil {
		return nil
	}
	return func() tea.Msg {
		switch it := item.(type) {
		case albumItem:
			songs, err := m.player.SongsForAlbum(m.ctx, it.album)
			return songsFetchedMsg(it.album.Name, songs, err)
		case artistItem:
			songs, err := m.player.SongsForArtist(m.ctx, it.artist)
			return songsFetchedMsg(it.artist.Name, songs, err)
		case playlistItem:
			songs, err := m.player.SongsForPlaylist(m.ctx, it.playlist)
			return songsFetchedMsg(it.playlist.Name, songs, err)
		}
		return nil
	}
}

func (m *Model) playFrom(index int) tea.Cmd {
	items := m.songs.Items()
	if len(items) == 0 {
		return nil
	}
	songs := make([]models.Song, 0, len(items))
	for _, it := range items {
		songs = append(songs, it.(songItem).song)
	}
	return func() tea.Msg {
		_, err := m.player.PlaySongs(m.ctx, songs, index)
		return commandDoneMsg(err)
	}
}

func (m *Model) dispatch(cmd nowplaying.Command) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg(m.player.Dispatch(m.ctx, cmd))
	}
}

// switchBackend moves to the backend after the active one, wrapping around.
func (m *Model) switchBackend() tea.Cmd {
	backends := m.player.Backends()
	if len(backends) < 2 {
		return nil
	}
	active := m.player.Active()
	next := backends[0]
	for i, b := range backends {
		if b == active {
			next = backends[(i+1)%len(backends)]
			break
		}
	}
	return func() tea.Msg {
		return backendSwitchedMsg(next, m.player.SwitchBackend(m.ctx, next))
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var b strings.Builder

	if m.view == LibraryView {
		b.WriteString(m.renderTabs())
		b.WriteString("\n")
		b.WriteString(m.library.View())
	} else {
		b.WriteString(m.songs.View())
	}
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(styles.warn.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.renderNowPlaying())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m *Model) renderTabs() string {
	parts := make([]string, len(tabNames))
	for i, name := range tabNames {
		if Tab(i) == m.tab {
			parts[i] = styles.tabOn.Render(name)
		} else {
			parts[i] = styles.tab.Render(name)
		}
	}
	return strings.Join(parts, " ")
}

func (m *Model) renderNowPlaying() string {
	s := m.snapshot
	if s.Song == nil {
		return styles.bar.Render(styles.help.Render("Nothing playing"))
	}

	icon := "■"
	switch {
	case s.IsPlaying:
		icon = "▶"
	case s.State == "paused":
		icon = "⏸"
	case s.State == "loading":
		icon = "…"
	}

	line := fmt.Sprintf("%s %s · %s", icon, styles.playing.Render(s.Song.Title), s.Song.Artist)
	timing := fmt.Sprintf("%s %s / %s", m.bar.ViewAs(s.Progress()),
		shared.FormatDuration(int(s.Elapsed)), shared.FormatDuration(int(s.Total)))

	var flags []string
	flags = append(flags, fmt.Sprintf("%d/%d", s.QueuePosition+1, s.QueueLength))
	if s.Shuffle {
		flags = append(flags, "shuffle")
	}
	if s.Repeat != "" && s.Repeat != queue.RepeatOff.String() {
		flags = append(flags, "repeat "+s.Repeat)
	}
	flags = append(flags, string(s.Backend))
	info := styles.help.Render(strings.Join(flags, " • "))

	if s.Error != "" {
		info += " " + styles.err.Render(s.Error)
	}
	return styles.bar.Render(line + "\n" + timing + "\n" + info)
}

func (m *Model) renderHelp() string {
	keys := []key.Binding{m.keys.enter, m.keys.toggle, m.keys.next, m.keys.previous, m.keys.backend}
	if m.view == LibraryView {
		keys = append(keys, m.keys.tab)
	} else {
		keys = append(keys, m.keys.back)
	}
	keys = append(keys, m.keys.quit)
	return m.help.ShortHelpView(keys)
}
