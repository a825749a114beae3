package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"golang.org/x/oauth2"
)

type catalogFixture struct {
	mu            sync.Mutex
	paths         []string
	refreshes     int
	rejectRefresh bool
	expiresIn     int
}

func (f *catalogFixture) json(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *catalogFixture) configure(fn func(f *catalogFixture)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *catalogFixture) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func catalogTrackJSON(id, name, artist, preview string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         name,
		"artists":      []map[string]any{{"id": "ar-" + artist, "name": artist}},
		"album":        map[string]any{"id": "al-1", "name": "Parachutes", "images": []map[string]any{{"url": "https://img/parachutes.jpg"}}},
		"duration_ms":  273000,
		"track_number": 2,
		"preview_url":  preview,
	}
}

func (f *catalogFixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	reject := f.rejectRefresh
	expires := f.expiresIn
	f.mu.Unlock()

	if r.URL.Path == "/token" {
		if reject {
			f.json(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()
		if expires == 0 {
			expires = 3600
		}
		f.json(w, http.StatusOK, map[string]any{
			"access_token":  "at-1",
			"token_type":    "Bearer",
			"refresh_token": "rt-2",
			"expires_in":    expires,
		})
		return
	}

	if r.Header.Get("Authorization") != "Bearer at-1" {
		f.json(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"status": 401}})
		return
	}

	q := r.URL.Query()
	switch r.URL.Path {
	case "/v1/me":
		f.json(w, http.StatusOK, map[string]any{"id": "u1", "display_name": "Sam"})
	case "/v1/me/albums":
		album := func(id, name string) map[string]any {
			return map[string]any{"album": map[string]any{
				"id": id, "name": name, "total_tracks": 10,
				"artists": []map[string]any{{"name": "Coldplay"}},
				"images":  []map[string]any{{"url": "https://img/" + id + ".jpg"}},
			}}
		}
		if q.Get("offset") == "0" {
			next := "more"
			f.json(w, http.StatusOK, map[string]any{"items": []any{album("al-1", "Parachutes")}, "next": next})
			return
		}
		f.json(w, http.StatusOK, map[string]any{"items": []any{album("al-2", "X&Y")}, "next": nil})
	case "/v1/me/following":
		if q.Get("after") == "" {
			f.json(w, http.StatusOK, map[string]any{"artists": map[string]any{
				"items":   []map[string]any{{"id": "ar-1", "name": "Coldplay"}},
				"next":    "more",
				"cursors": map[string]any{"after": "ar-1"},
			}})
			return
		}
		f.json(w, http.StatusOK, map[string]any{"artists": map[string]any{
			"items": []map[string]any{{"id": "ar-2", "name": "Keane"}},
			"next":  nil,
		}})
	case "/v1/me/playlists":
		f.json(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "pl-1", "name": "Road Trip", "owner": map[string]any{"display_name": "Sam"}, "tracks": map[string]any{"total": 2}},
		}})
	case "/v1/albums/al-1/tracks":
		f.json(w, http.StatusOK, map[string]any{"items": []map[string]any{
			{"id": "t-1", "name": "Don't Panic", "artists": []map[string]any{{"name": "Coldplay"}}, "duration_ms": 137000, "track_number": 1},
			{"id": "t-2", "name": "Shiver", "artists": []map[string]any{{"name": "Coldplay"}}, "duration_ms": 299000, "track_number": 2},
		}})
	case "/v1/artists/ar-1/top-tracks":
		if q.Get("market") != "from_token" {
			f.json(w, http.StatusBadRequest, map[string]any{})
			return
		}
		f.json(w, http.StatusOK, map[string]any{"tracks": []any{catalogTrackJSON("t-3", "Yellow", "Coldplay", "https://p/t-3.mp3")}})
	case "/v1/playlists/pl-1/tracks":
		f.json(w, http.StatusOK, map[string]any{"items": []any{
			map[string]any{"track": catalogTrackJSON("t-3", "Yellow", "Coldplay", "https://p/t-3.mp3")},
			map[string]any{"track": nil},
		}})
	case "/v1/search":
		f.json(w, http.StatusOK, map[string]any{
			"tracks":  map[string]any{"items": []any{catalogTrackJSON("t-3", "Yellow", "Coldplay", "")}},
			"albums":  map[string]any{"items": []map[string]any{{"id": "al-1", "name": "Parachutes"}}},
			"artists": map[string]any{"items": []map[string]any{{"id": "ar-1", "name": "Coldplay"}}},
		})
	case "/v1/broken":
		w.Write([]byte("<html>"))
	default:
		f.json(w, http.StatusNotFound, map[string]any{})
	}
}

func newCatalogFixture(t *testing.T) (*CatalogService, *catalogFixture) {
	t.Helper()
	fixture := &catalogFixture{}
	srv := httptest.NewServer(fixture)
	t.Cleanup(srv.Close)

	svc, err := NewCatalogService(map[string]string{
		"client_id":     "cid",
		"client_secret": "csecret",
		"base_url":      srv.URL + "/v1",
		"auth_url":      srv.URL + "/authorize",
		"token_url":     srv.URL + "/token",
	}, ClientOpts{})
	if err != nil {
		t.Fatalf("NewCatalogService() error = %v", err)
	}
	return svc, fixture
}

func TestCatalogService(t *testing.T) {
	ctx := context.Background()
	accessToken := map[string]string{"access_token": "at-1"}

	t.Run("NewCatalogService", func(t *testing.T) {
		t.Run("requires client credentials", func(t *testing.T) {
			_, err := NewCatalogService(map[string]string{"client_id": "cid"}, ClientOpts{})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("uses defaults", func(t *testing.T) {
			svc, err := NewCatalogService(map[string]string{"client_id": "cid", "client_secret": "s"}, ClientOpts{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if svc.config.RedirectURL != "http://127.0.0.1:7890/callback" {
				t.Errorf("unexpected redirect %q", svc.config.RedirectURL)
			}
			if svc.client.baseURL != catalogBaseURL {
				t.Errorf("unexpected base URL %q", svc.client.baseURL)
			}
			if svc.Name() != "Catalog" || svc.Backend() != models.BackendCatalog {
				t.Errorf("unexpected identity %s/%s", svc.Name(), svc.Backend())
			}
		})
	})

	t.Run("GetAuthURL", func(t *testing.T) {
		svc, _ := newCatalogFixture(t)
		authURL := svc.GetAuthURL("state-1")
		for _, want := range []string{"client_id=cid", "state=state-1", "access_type=offline", "user-library-read"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("auth URL %q missing %q", authURL, want)
			}
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("with access token", func(t *testing.T) {
			svc, _ := newCatalogFixture(t)
			handle, err := svc.Authenticate(ctx, accessToken)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if handle.Token != "at-1" || !svc.Authenticated() {
				t.Errorf("expected session with at-1, got %+v", handle)
			}
		})

		t.Run("rejected access token", func(t *testing.T) {
			svc, _ := newCatalogFixture(t)
			_, err := svc.Authenticate(ctx, map[string]string{"access_token": "stale"})
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
			if svc.Authenticated() {
				t.Error("expected no session")
			}
		})

		t.Run("with refresh token reports the new token", func(t *testing.T) {
			svc, fixture := newCatalogFixture(t)
			var seen []string
			svc.SetTokenRefreshCallback(func(tok *oauth2.Token) {
				seen = append(seen, tok.RefreshToken)
			})

			if _, err := svc.Authenticate(ctx, map[string]string{"refresh_token": "rt-1"}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n := fixture.refreshCount(); n != 1 {
				t.Errorf("expected 1 refresh, got %d", n)
			}
			if len(seen) != 1 || seen[0] != "rt-2" {
				t.Errorf("expected callback with rt-2, got %v", seen)
			}
			if svc.RefreshToken() != "rt-2" {
				t.Errorf("expected rotated refresh token, got %q", svc.RefreshToken())
			}
		})

		t.Run("revoked refresh token", func(t *testing.T) {
			svc, fixture := newCatalogFixture(t)
			fixture.configure(func(f *catalogFixture) { f.rejectRefresh = true })
			_, err := svc.Authenticate(ctx, map[string]string{"refresh_token": "rt-1"})
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
		})

		t.Run("nothing to authenticate with", func(t *testing.T) {
			svc, _ := newCatalogFixture(t)
			_, err := svc.Authenticate(ctx, map[string]string{})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})
	})

	t.Run("fails fast without a session", func(t *testing.T) {
		svc, fixture := newCatalogFixture(t)
		if _, err := svc.ListAlbums(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, err := svc.SongsForAlbum(ctx, models.Album{ID: "al-1"}); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		fixture.configure(func(f *catalogFixture) {
			if len(f.paths) != 0 {
				t.Errorf("expected no requests, got %v", f.paths)
			}
		})
		if got := svc.StreamURL(models.Song{ID: "t-3", StreamURL: "https://p/t-3.mp3"}); got != "" {
			t.Errorf("expected empty stream URL, got %q", got)
		}
	})

	t.Run("expired refresh mid-session", func(t *testing.T) {
		svc, fixture := newCatalogFixture(t)
		fixture.configure(func(f *catalogFixture) { f.expiresIn = 1 })
		if _, err := svc.Authenticate(ctx, map[string]string{"refresh_token": "rt-1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		fixture.configure(func(f *catalogFixture) { f.rejectRefresh = true })

		_, err := svc.ListPlaylists(ctx)
		if !errors.Is(err, shared.ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
		if svc.Authenticated() {
			t.Error("expected session to be dropped")
		}
	})

	t.Run("library", func(t *testing.T) {
		svc, _ := newCatalogFixture(t)
		login(t, svc, accessToken)

		t.Run("ListAlbums follows pages", func(t *testing.T) {
			albums, err := svc.ListAlbums(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(albums) != 2 || albums[1].Name != "X&Y" {
				t.Fatalf("expected 2 albums, got %+v", albums)
			}
			if albums[0].Artist != "Coldplay" || albums[0].ArtworkURL != "https://img/al-1.jpg" {
				t.Errorf("unexpected album %+v", albums[0])
			}
		})

		t.Run("ListArtists follows cursors", func(t *testing.T) {
			artists, err := svc.ListArtists(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(artists) != 2 || artists[1].Name != "Keane" {
				t.Errorf("expected Coldplay and Keane, got %+v", artists)
			}
		})

		t.Run("ListPlaylists", func(t *testing.T) {
			playlists, err := svc.ListPlaylists(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(playlists) != 1 || playlists[0].Curator != "Sam" || playlists[0].SongCount != 2 {
				t.Errorf("unexpected playlists %+v", playlists)
			}
		})

		t.Run("SongsForAlbum fills in the album", func(t *testing.T) {
			albums, _ := svc.ListAlbums(ctx)
			songs, err := svc.SongsForAlbum(ctx, albums[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(songs) != 2 {
				t.Fatalf("expected 2 songs, got %d", len(songs))
			}
			if songs[0].Album != "Parachutes" || songs[0].ArtworkURL != "https://img/al-1.jpg" {
				t.Errorf("expected album fields, got %+v", songs[0])
			}
			if songs[0].Duration != 137 {
				t.Errorf("expected 137s, got %d", songs[0].Duration)
			}
		})

		t.Run("SongsForArtist uses top tracks", func(t *testing.T) {
			songs, err := svc.SongsForArtist(ctx, models.Artist{ID: "ar-1", Name: "Coldplay"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(songs) != 1 || songs[0].StreamURL != "https://p/t-3.mp3" {
				t.Errorf("unexpected songs %+v", songs)
			}
		})

		t.Run("SongsForPlaylist skips removed tracks", func(t *testing.T) {
			songs, err := svc.SongsForPlaylist(ctx, models.Playlist{ID: "pl-1"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(songs) != 1 || songs[0].Title != "Yellow" {
				t.Errorf("unexpected songs %+v", songs)
			}
		})

		t.Run("empty identifiers resolve to nothing", func(t *testing.T) {
			songs, err := svc.SongsForPlaylist(ctx, models.Playlist{})
			if err != nil || songs == nil || len(songs) != 0 {
				t.Errorf("expected empty non-nil slice, got %v, %v", songs, err)
			}
		})

		t.Run("Search", func(t *testing.T) {
			results, err := svc.Search(ctx, "yellow")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results.Songs) != 1 || len(results.Albums) != 1 || len(results.Artists) != 1 {
				t.Errorf("unexpected results %+v", results)
			}
			if results.Songs[0].Playable() {
				t.Error("expected a track without preview to be unplayable")
			}
		})

		t.Run("decoding failures read as no data", func(t *testing.T) {
			var out struct{}
			err := svc.doRequest(ctx, "/broken", nil, &out)
			if !errors.Is(err, shared.ErrDecoding) {
				t.Fatalf("expected ErrDecoding, got %v", err)
			}
			if svc.tolerate("broken", err) != nil {
				t.Error("expected decoding error to be tolerated")
			}
		})

		t.Run("artwork", func(t *testing.T) {
			song := svc.song(CatalogTrack{ID: "t-9", Album: CatalogAlbum{Images: []CatalogImage{{URL: "a.jpg"}, {URL: "b.jpg"}}}})
			if svc.SongArtworkURL(song) != "a.jpg" {
				t.Errorf("expected first image, got %q", svc.SongArtworkURL(song))
			}
			if got := svc.AlbumArtworkURL(models.Album{Native: CatalogAlbum{}}); got != "" {
				t.Errorf("expected empty artwork, got %q", got)
			}
		})
	})

	t.Run("refreshableTokenSource", func(t *testing.T) {
		t.Run("calls callback on first token fetch", func(t *testing.T) {
			var captured *oauth2.Token
			source := &refreshableTokenSource{
				source:   &mockTokenSource{token: &oauth2.Token{AccessToken: "test_token"}},
				callback: func(tok *oauth2.Token) { captured = tok },
			}

			tok, err := source.Token()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if captured == nil || captured.AccessToken != "test_token" {
				t.Errorf("expected captured token, got %+v", captured)
			}
			if tok.AccessToken != "test_token" {
				t.Errorf("expected returned token to be 'test_token', got %s", tok.AccessToken)
			}
		})

		t.Run("calls callback only when token changes", func(t *testing.T) {
			calls := 0
			mock := &mockTokenSource{token: &oauth2.Token{AccessToken: "token1"}}
			source := &refreshableTokenSource{source: mock, callback: func(*oauth2.Token) { calls++ }}

			source.Token()
			source.Token()
			if calls != 1 {
				t.Errorf("expected callback called once, got %d", calls)
			}

			mock.token = &oauth2.Token{AccessToken: "token2"}
			source.Token()
			if calls != 2 {
				t.Errorf("expected callback called twice, got %d", calls)
			}
		})

		t.Run("handles nil callback", func(t *testing.T) {
			source := &refreshableTokenSource{source: &mockTokenSource{token: &oauth2.Token{AccessToken: "x"}}}
			if _, err := source.Token(); err != nil {
				t.Fatalf("expected no error with nil callback, got %v", err)
			}
		})

		t.Run("propagates source errors", func(t *testing.T) {
			source := &refreshableTokenSource{
				source: &mockTokenSource{err: errors.New("token source error")},
				callback: func(*oauth2.Token) {
					t.Error("callback should not be called on error")
				},
			}
			tok, err := source.Token()
			if err == nil || !strings.Contains(err.Error(), "token source error") {
				t.Errorf("expected source error, got %v", err)
			}
			if tok != nil {
				t.Error("expected nil token on error")
			}
		})
	})
}

// mockTokenSource implements [oauth2.TokenSource] for testing
type mockTokenSource struct {
	token *oauth2.Token
	err   error
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return m.token, m.err
}
