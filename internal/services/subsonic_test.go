package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

type subsonicFixture struct {
	mu        sync.Mutex
	endpoints []string
	revoked   bool
}

func (f *subsonicFixture) respond(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"status": "ok", "version": "1.16.1"}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"subsonic-response": body})
}

func (f *subsonicFixture) fail(w http.ResponseWriter, code int, msg string) {
	json.NewEncoder(w).Encode(map[string]any{"subsonic-response": map[string]any{
		"status": "failed",
		"error":  map[string]any{"code": code, "message": msg},
	}})
}

func subsonicSongJSON(id, title, album string, track int) map[string]any {
	return map[string]any{"id": id, "title": title, "album": album, "artist": "Boards of Canada", "duration": 240, "track": track, "coverArt": "al-" + album}
}

func (f *subsonicFixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	endpoint := strings.TrimPrefix(r.URL.Path, subsonicRestPath)

	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	revoked := f.revoked
	f.mu.Unlock()

	want := fmt.Sprintf("%x", md5.Sum([]byte("hunter2"+q.Get("s"))))
	if q.Get("u") != "sam" || q.Get("t") != want || revoked {
		f.fail(w, 40, "Wrong username or password")
		return
	}
	if q.Get("f") != "json" || q.Get("c") == "" || q.Get("v") == "" {
		f.fail(w, 10, "Required parameter is missing")
		return
	}

	switch endpoint {
	case "ping.view":
		f.respond(w, nil)
	case "getAlbumList2.view":
		f.respond(w, map[string]any{"albumList2": map[string]any{"album": []any{
			map[string]any{"id": "al-1", "name": "Geogaddi", "artist": "Boards of Canada", "songCount": 2, "duration": 480, "coverArt": "al-1"},
			map[string]any{"id": "al-2", "name": "Tomorrow's Harvest", "artist": "Boards of Canada", "songCount": 1, "duration": 240},
		}}})
	case "getArtists.view":
		f.respond(w, map[string]any{"artists": map[string]any{"index": []any{
			map[string]any{"name": "B", "artist": []any{map[string]any{"id": "ar-1", "name": "Boards of Canada", "albumCount": 2}}},
			map[string]any{"name": "M", "artist": []any{map[string]any{"id": "ar-2", "name": "Mogwai", "albumCount": 0}}},
		}}})
	case "getArtist.view":
		if q.Get("id") != "ar-1" {
			f.fail(w, 70, "Artist not found")
			return
		}
		f.respond(w, map[string]any{"artist": map[string]any{"id": "ar-1", "name": "Boards of Canada", "album": []any{
			map[string]any{"id": "al-1", "name": "Geogaddi"},
			map[string]any{"id": "al-2", "name": "Tomorrow's Harvest"},
		}}})
	case "getAlbum.view":
		switch q.Get("id") {
		case "al-1":
			f.respond(w, map[string]any{"album": map[string]any{"id": "al-1", "name": "Geogaddi", "song": []any{
				subsonicSongJSON("s-1", "Music Is Math", "Geogaddi", 2),
				subsonicSongJSON("s-2", "Alpha and Omega", "Geogaddi", 15),
			}}})
		case "al-2":
			f.respond(w, map[string]any{"album": map[string]any{"id": "al-2", "name": "Tomorrow's Harvest", "song": []any{
				subsonicSongJSON("s-3", "Reach for the Dead", "Tomorrow's Harvest", 3),
			}}})
		default:
			f.fail(w, 70, "Album not found")
		}
	case "getPlaylists.view":
		f.respond(w, map[string]any{"playlists": map[string]any{"playlist": []any{
			map[string]any{"id": "pl-1", "name": "Late Night", "owner": "sam", "songCount": 1, "duration": 240},
		}}})
	case "getPlaylist.view":
		f.respond(w, map[string]any{"playlist": map[string]any{"id": "pl-1", "name": "Late Night", "entry": []any{
			subsonicSongJSON("s-3", "Reach for the Dead", "Tomorrow's Harvest", 3),
			map[string]any{"id": "dir-1", "isDir": true, "title": "Folder"},
		}}})
	case "search3.view":
		f.respond(w, map[string]any{"searchResult3": map[string]any{
			"song":   []any{subsonicSongJSON("s-1", "Music Is Math", "Geogaddi", 2)},
			"album":  []any{map[string]any{"id": "al-1", "name": "Geogaddi"}},
			"artist": []any{map[string]any{"id": "ar-1", "name": "Boards of Canada"}},
		}})
	default:
		f.fail(w, 0, "unknown endpoint")
	}
}

func newSubsonicFixture(t *testing.T) (*SubsonicService, *subsonicFixture) {
	t.Helper()
	fixture := &subsonicFixture{}
	server := httptest.NewServer(fixture)
	t.Cleanup(server.Close)

	svc, err := NewSubsonicService(map[string]string{"base_url": server.URL + "/"}, ClientOpts{Logger: shared.NewLogger(io.Discard)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, fixture
}

var subsonicCreds = map[string]string{"username": "sam", "password": "hunter2"}

func TestSubsonicService(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		if svc.clientName != "polyplay" || svc.apiVersion != "1.16.1" {
			t.Errorf("unexpected defaults %q %q", svc.clientName, svc.apiVersion)
		}
		if svc.Name() != "Subsonic" || svc.Backend() != models.BackendSubsonic {
			t.Error("unexpected name or backend")
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("Salted Token", func(t *testing.T) {
			svc, _ := newSubsonicFixture(t)
			handle, err := svc.Authenticate(ctx, subsonicCreds)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			salt := svc.get("salt")
			if len(salt) != 8 {
				t.Errorf("expected 8 character salt, got %q", salt)
			}
			if handle.Token != fmt.Sprintf("%x", md5.Sum([]byte("hunter2"+salt))) {
				t.Error("token should be md5(password + salt)")
			}
		})

		t.Run("Wrong Password", func(t *testing.T) {
			svc, _ := newSubsonicFixture(t)
			_, err := svc.Authenticate(ctx, map[string]string{"username": "sam", "password": "wrong"})
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
			if svc.Authenticated() {
				t.Error("expected no session")
			}
		})
	})

	t.Run("Calls Without Session Fail Fast", func(t *testing.T) {
		svc, fixture := newSubsonicFixture(t)
		if _, err := svc.ListPlaylists(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, err := svc.SongsForArtist(ctx, models.Artist{ID: "ar-1"}); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if len(fixture.endpoints) != 0 {
			t.Error("expected no network I/O")
		}
	})

	t.Run("Revoked Credentials Drop The Session", func(t *testing.T) {
		svc, fixture := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)
		fixture.mu.Lock()
		fixture.revoked = true
		fixture.mu.Unlock()

		if _, err := svc.ListAlbums(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if svc.Authenticated() {
			t.Error("expected session to be dropped")
		}
	})

	t.Run("Lists", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)

		albums, err := svc.ListAlbums(ctx)
		if err != nil || len(albums) != 2 {
			t.Fatalf("expected 2 albums, got %d (%v)", len(albums), err)
		}
		if albums[0].ID != "al-1" || albums[0].SongCount != 2 || albums[0].ArtworkURL == "" {
			t.Errorf("unexpected album %+v", albums[0])
		}

		artists, err := svc.ListArtists(ctx)
		if err != nil || len(artists) != 2 || artists[1].Name != "Mogwai" {
			t.Errorf("unexpected artists %+v (%v)", artists, err)
		}

		playlists, err := svc.ListPlaylists(ctx)
		if err != nil || len(playlists) != 1 || playlists[0].Curator != "sam" {
			t.Errorf("unexpected playlists %+v (%v)", playlists, err)
		}
	})

	t.Run("SongsForAlbum", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)

		songs, err := svc.SongsForAlbum(ctx, models.Album{ID: "al-1"})
		if err != nil || len(songs) != 2 {
			t.Fatalf("expected 2 songs, got %d (%v)", len(songs), err)
		}
		if !songs[0].Playable() || songs[0].ArtworkURL == "" {
			t.Error("expected stream and artwork URLs")
		}

		missing, err := svc.SongsForAlbum(ctx, models.Album{ID: "al-404"})
		if err != nil || missing == nil || len(missing) != 0 {
			t.Errorf("expected empty result for missing album, got %v, %v", missing, err)
		}
	})

	t.Run("SongsForArtist Keeps Album Order", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)

		songs, err := svc.SongsForArtist(ctx, models.Artist{ID: "ar-1"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		var ids []string
		for _, s := range songs {
			ids = append(ids, s.ID)
		}
		if strings.Join(ids, ",") != "s-1,s-2,s-3" {
			t.Errorf("expected album order, got %v", ids)
		}

		none, err := svc.SongsForArtist(ctx, models.Artist{ID: "ar-9"})
		if err != nil || len(none) != 0 {
			t.Errorf("expected empty result, got %v, %v", none, err)
		}
	})

	t.Run("SongsForPlaylist Skips Directories", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)

		songs, err := svc.SongsForPlaylist(ctx, models.Playlist{ID: "pl-1"})
		if err != nil || len(songs) != 1 || songs[0].ID != "s-3" {
			t.Errorf("unexpected songs %+v (%v)", songs, err)
		}
	})

	t.Run("Search", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		login(t, svc, subsonicCreds)

		results, err := svc.Search(ctx, "geo")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(results.Songs) != 1 || len(results.Albums) != 1 || len(results.Artists) != 1 {
			t.Errorf("unexpected results %+v", results)
		}
	})

	t.Run("URL Builders", func(t *testing.T) {
		svc, _ := newSubsonicFixture(t)
		song := models.NewSong(models.BackendSubsonic, "s-1", "T", "A", "B", 0, 0)
		if svc.StreamURL(song) != "" {
			t.Error("expected empty stream URL without a session")
		}

		login(t, svc, subsonicCreds)
		first := svc.StreamURL(song)
		if first != svc.StreamURL(song) {
			t.Error("stream URL should be stable within a session")
		}

		u, err := url.Parse(first)
		if err != nil {
			t.Fatalf("invalid URL: %v", err)
		}
		if u.Path != subsonicRestPath+"stream.view" || u.Query().Get("id") != "s-1" || u.Query().Get("u") != "sam" {
			t.Errorf("unexpected stream URL %s", u)
		}

		if got := svc.AlbumArtworkURL(models.Album{ID: "al-2"}); !strings.Contains(got, "getCoverArt.view") || !strings.Contains(got, "id=al-2") {
			t.Errorf("unexpected album artwork URL %q", got)
		}
		if got := svc.SongArtworkURL(song); got != "" {
			t.Errorf("expected empty artwork without native payload, got %q", got)
		}
	})
}
