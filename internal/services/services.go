package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// Service is a music backend adapter. Every method except the URL builders needs a session from
// [Service.Authenticate]; without one it fails with [shared.ErrNotAuthenticated] before any I/O.
type Service interface {
	// Name returns a display name such as "AudioStation".
	Name() string

	// Backend returns the tag this service publishes songs under.
	Backend() models.Backend

	// Authenticate opens a session. Credentials are backend specific.
	Authenticate(ctx context.Context, credentials map[string]string) (*SessionHandle, error)

	// Authenticated reports whether a session is held. It does not check server-side expiry.
	Authenticated() bool

	ListAlbums(ctx context.Context) ([]models.Album, error)
	ListArtists(ctx context.Context) ([]models.Artist, error)
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)

	SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error)
	SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error)
	SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error)

	// Search returns songs, albums and artists matching query.
	Search(ctx context.Context, query string) (*models.SearchResults, error)

	// StreamURL returns the URL handed to the media engine, or "" when it cannot be built.
	StreamURL(song models.Song) string

	// SongArtworkURL and AlbumArtworkURL return "" when the required fields are missing.
	SongArtworkURL(song models.Song) string
	AlbumArtworkURL(album models.Album) string
}

// SessionHandle is an in-memory session. It is never persisted.
type SessionHandle struct {
	Backend  models.Backend
	Token    string
	IssuedAt time.Time
}

// session guards the handle shared by an adapter's request and URL paths.
type session struct {
	mu     sync.RWMutex
	handle *SessionHandle
	extra  map[string]string
}

func (s *session) set(backend models.Backend, token string, extra map[string]string) *SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = &SessionHandle{Backend: backend, Token: token, IssuedAt: time.Now()}
	s.extra = extra
	h := *s.handle
	return &h
}

func (s *session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = nil
	s.extra = nil
}

// Authenticated reports whether a session is held.
func (s *session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil
}

// token returns the session token, or "" without a session.
func (s *session) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.Token
}

func (s *session) get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extra[key]
}

// require returns the token or [shared.ErrNotAuthenticated].
func (s *session) require(backend models.Backend) (string, error) {
	if tok := s.token(); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("%w: %s has no session", shared.ErrNotAuthenticated, backend)
}

// credential returns creds[key] or [shared.ErrMissingCredentials].
func credential(creds map[string]string, key string) (string, error) {
	if v := creds[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", shared.ErrMissingCredentials, key)
}

// New builds the adapter for backend from its configuration values.
func New(backend models.Backend, creds map[string]string, opts ClientOpts) (Service, error) {
	switch backend {
	case models.BackendAudioStation:
		return NewAudioStationService(creds, opts)
	case models.BackendSubsonic:
		return NewSubsonicService(creds, opts)
	case models.BackendCatalog:
		return NewCatalogService(creds, opts)
	case models.BackendLocal:
		return NewLocalService(creds, opts)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownBackend, backend)
	}
}
