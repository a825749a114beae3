// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/playback"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
)

// MockService is a test double for [services.Service].
//
// Containers resolve through the Songs map, keyed by album, artist or playlist name. Hook, when
// set, runs before every data call and can block or fail it.
type MockService struct {
	mu sync.Mutex

	Tag       models.Backend
	Albums    []models.Album
	Artists   []models.Artist
	Playlists []models.Playlist
	Songs     map[string][]models.Song
	Results   *models.SearchResults

	// AuthErr fails Authenticate. ExpireAfter drops the session after that many data calls.
	AuthErr     error
	ExpireAfter int
	Hook        func(ctx context.Context, call string) error

	// SessionStreams appends the current session to stream URLs, like a server that signs them.
	SessionStreams bool

	authenticated bool
	Calls         []string
	AuthCalls     int
	dataCalls     int
}

// NewMockService creates an unauthenticated mock tagged backend.
func NewMockService(backend models.Backend) *MockService {
	return &MockService{Tag: backend, Songs: map[string][]models.Song{}}
}

// MockSongs builds n playable songs titled "<prefix> 1" onward.
func MockSongs(backend models.Backend, prefix string, n int) []models.Song {
	songs := make([]models.Song, 0, n)
	for i := 1; i <= n; i++ {
		title := fmt.Sprintf("%s %d", prefix, i)
		songs = append(songs, models.NewSong(backend, fmt.Sprintf("%s-%d", prefix, i), title, "Mock Artist", prefix, 180, i).
			WithStream("https://stream.test/"+string(backend)+"/"+title))
	}
	return songs
}

func (m *MockService) Name() string { return "mock " + string(m.Tag) }

func (m *MockService) Backend() models.Backend { return m.Tag }

func (m *MockService) Authenticate(ctx context.Context, credentials map[string]string) (*services.SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthCalls++
	m.Calls = append(m.Calls, "authenticate")
	if m.AuthErr != nil {
		m.authenticated = false
		return nil, m.AuthErr
	}
	m.authenticated = true
	m.dataCalls = 0
	return &services.SessionHandle{Backend: m.Tag, Token: "mock-token", IssuedAt: time.Now()}, nil
}

func (m *MockService) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// begin records call and applies the session, expiry and hook rules.
func (m *MockService) begin(ctx context.Context, call string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	if !m.authenticated {
		m.mu.Unlock()
		return shared.ErrNotAuthenticated
	}
	m.dataCalls++
	if m.ExpireAfter > 0 && m.dataCalls > m.ExpireAfter {
		m.authenticated = false
		m.mu.Unlock()
		return fmt.Errorf("%w: session expired on server", shared.ErrNotAuthenticated)
	}
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (m *MockService) songs(key string) []models.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	songs := m.Songs[key]
	if songs == nil {
		return []models.Song{}
	}
	return append([]models.Song(nil), songs...)
}

func (m *MockService) ListAlbums(ctx context.Context) ([]models.Album, error) {
	if err := m.begin(ctx, "albums"); err != nil {
		return nil, err
	}
	return m.Albums, nil
}

func (m *MockService) ListArtists(ctx context.Context) ([]models.Artist, error) {
	if err := m.begin(ctx, "artists"); err != nil {
		return nil, err
	}
	return m.Artists, nil
}

func (m *MockService) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	if err := m.begin(ctx, "playlists"); err != nil {
		return nil, err
	}
	return m.Playlists, nil
}

func (m *MockService) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	if err := m.begin(ctx, "album:"+album.Name); err != nil {
		return nil, err
	}
	return m.songs(album.Name), nil
}

func (m *MockService) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	if err := m.begin(ctx, "artist:"+artist.Name); err != nil {
		return nil, err
	}
	return m.songs(artist.Name), nil
}

func (m *MockService) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	if err := m.begin(ctx, "playlist:"+playlist.Name); err != nil {
		return nil, err
	}
	return m.songs(playlist.Name), nil
}

func (m *MockService) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	if err := m.begin(ctx, "search:"+query); err != nil {
		return nil, err
	}
	if m.Results == nil {
		return &models.SearchResults{Songs: []models.Song{}, Albums: []models.Album{}, Artists: []models.Artist{}}, nil
	}
	return m.Results, nil
}

func (m *MockService) StreamURL(song models.Song) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.SessionStreams || song.StreamURL == "" {
		return song.StreamURL
	}
	if !m.authenticated {
		return ""
	}
	return fmt.Sprintf("%s?sid=mock-token-%d", song.StreamURL, m.AuthCalls)
}

func (m *MockService) SongArtworkURL(song models.Song) string { return song.ArtworkURL }
func (m *MockService) AlbumArtworkURL(a models.Album) string  { return a.ArtworkURL }

// CallLog returns a copy of the recorded calls.
func (m *MockService) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

// FakeEngine is a [playback.MediaEngine] that records commands. Tests drive it with Emit.
type FakeEngine struct {
	mu       sync.Mutex
	Loaded   []string
	Commands []string
	position float64
	LoadErr  error
	events   chan playback.EngineEvent
	closed   bool
}

// NewFakeEngine creates an engine with a buffered event channel.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{events: make(chan playback.EngineEvent, 16)}
}

func (f *FakeEngine) record(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, cmd)
}

func (f *FakeEngine) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, "load")
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.Loaded = append(f.Loaded, url)
	f.position = 0
	return nil
}

func (f *FakeEngine) Play(ctx context.Context) error  { f.record("play"); return nil }
func (f *FakeEngine) Pause(ctx context.Context) error { f.record("pause"); return nil }
func (f *FakeEngine) Stop(ctx context.Context) error  { f.record("stop"); return nil }

func (f *FakeEngine) Seek(ctx context.Context, seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, fmt.Sprintf("seek %.0f", seconds))
	f.position = seconds
	return nil
}

func (f *FakeEngine) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *FakeEngine) Events() <-chan playback.EngineEvent {
	return f.events
}

// Emit queues an engine event.
func (f *FakeEngine) Emit(kind playback.EventKind) {
	f.events <- playback.EngineEvent{Kind: kind}
}

// LastLoaded returns the most recent URL handed to Load.
func (f *FakeEngine) LastLoaded() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Loaded) == 0 {
		return ""
	}
	return f.Loaded[len(f.Loaded)-1]
}

// CommandLog returns a copy of the recorded commands.
func (f *FakeEngine) CommandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Commands...)
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("engine already closed")
	}
	f.closed = true
	return nil
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

var (
	_ services.Service     = (*MockService)(nil)
	_ playback.MediaEngine = (*FakeEngine)(nil)
)
