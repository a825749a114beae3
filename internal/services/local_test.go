package services

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/spf13/afero"
)

func newLocalLibrary(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/music/Coldplay/Parachutes/01 - Don't Panic.mp3":             "",
		"/music/Coldplay/Parachutes/02 - Shiver.flac":                 "",
		"/music/Coldplay/Parachutes/cover.jpg":                        "jpg",
		"/music/Coldplay/X&Y/03 Fix You.mp3":                          "",
		"/music/Coldplay/notes.txt":                                   "not audio",
		"/music/Keane/Hopes and Fears/1. Somewhere Only We Know.ogg": "",
		"/music/Keane/Hopes and Fears/front.jpg":                      "jpg",
		"/music/loose.mp3":                                            "",
		"/music/road trip.m3u": strings.Join([]string{
			"#EXTM3U",
			"#EXTINF:-1,Keane - Somewhere Only We Know",
			"Keane/Hopes and Fears/1. Somewhere Only We Know.ogg",
			"missing.mp3",
			"/music/Coldplay/Parachutes/02 - Shiver.flac",
		}, "\n"),
	}
	for p, body := range files {
		if err := fs.MkdirAll(path.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := afero.WriteFile(fs, p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return fs
}

func newLocalService(t *testing.T, fs afero.Fs) *LocalService {
	t.Helper()
	svc, err := NewLocalService(map[string]string{"root": "/music/"}, ClientOpts{Fs: fs})
	if err != nil {
		t.Fatalf("NewLocalService() error = %v", err)
	}
	return svc
}

func TestParseTrackName(t *testing.T) {
	tc := []struct {
		in    string
		track int
		title string
	}{
		{"01 - Don't Panic.mp3", 1, "Don't Panic"},
		{"03 Fix You.mp3", 3, "Fix You"},
		{"1. Somewhere Only We Know.ogg", 1, "Somewhere Only We Know"},
		{"12_Track.flac", 12, "Track"},
		{"Yellow.mp3", 0, "Yellow"},
		{"1979.mp3", 0, "1979"},
	}
	for _, c := range tc {
		track, title := parseTrackName(c.in)
		if track != c.track || title != c.title {
			t.Errorf("parseTrackName(%q) = %d, %q; want %d, %q", c.in, track, title, c.track, c.title)
		}
	}
}

func TestLocalService(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a root", func(t *testing.T) {
		_, err := NewLocalService(map[string]string{}, ClientOpts{})
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		fs := newLocalLibrary(t)

		t.Run("missing directory", func(t *testing.T) {
			svc := newLocalService(t, fs)
			_, err := svc.Authenticate(ctx, map[string]string{"root": "/nowhere"})
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
		})

		t.Run("root is a file", func(t *testing.T) {
			svc := newLocalService(t, fs)
			_, err := svc.Authenticate(ctx, map[string]string{"root": "/music/loose.mp3"})
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
			if svc.Authenticated() {
				t.Error("expected no session")
			}
		})

		t.Run("directory", func(t *testing.T) {
			svc := newLocalService(t, fs)
			handle, err := svc.Authenticate(ctx, map[string]string{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if handle.Token != "/music" || handle.Backend != models.BackendLocal {
				t.Errorf("unexpected handle %+v", handle)
			}
		})
	})

	t.Run("fails fast without a session", func(t *testing.T) {
		svc := newLocalService(t, newLocalLibrary(t))
		if _, err := svc.ListAlbums(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, err := svc.ListPlaylists(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if got := svc.StreamURL(models.Song{ID: "loose.mp3"}); got != "" {
			t.Errorf("expected empty stream URL, got %q", got)
		}
	})

	svc := newLocalService(t, newLocalLibrary(t))
	login(t, svc, map[string]string{})

	t.Run("ListAlbums", func(t *testing.T) {
		albums, err := svc.ListAlbums(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(albums) != 3 {
			t.Fatalf("expected 3 albums, got %+v", albums)
		}
		if albums[0].Name != "Parachutes" || albums[0].SongCount != 2 {
			t.Errorf("unexpected first album %+v", albums[0])
		}
		if albums[0].ID != models.SyntheticID(models.BackendLocal, "coldplay", "parachutes") {
			t.Errorf("expected synthetic ID, got %q", albums[0].ID)
		}
		if albums[0].ArtworkURL != "file:///music/Coldplay/Parachutes/cover.jpg" {
			t.Errorf("unexpected artwork %q", albums[0].ArtworkURL)
		}
		if albums[1].ArtworkURL != "" {
			t.Errorf("expected no artwork for X&Y, got %q", albums[1].ArtworkURL)
		}
		if albums[2].ArtworkURL != "file:///music/Keane/Hopes%20and%20Fears/front.jpg" {
			t.Errorf("unexpected artwork %q", albums[2].ArtworkURL)
		}
	})

	t.Run("ListArtists", func(t *testing.T) {
		artists, err := svc.ListArtists(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(artists) != 2 || artists[0].Name != "Coldplay" || artists[0].SongCount != 3 || artists[1].Name != "Keane" {
			t.Errorf("unexpected artists %+v", artists)
		}
	})

	t.Run("SongsForAlbum", func(t *testing.T) {
		songs, err := svc.SongsForAlbum(ctx, models.Album{Name: "parachutes", Artist: "Coldplay"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(songs) != 2 || songs[0].Track != 1 || songs[1].Title != "Shiver" {
			t.Fatalf("unexpected songs %+v", songs)
		}
		if songs[1].StreamURL != "file:///music/Coldplay/Parachutes/02%20-%20Shiver.flac" {
			t.Errorf("unexpected stream URL %q", songs[1].StreamURL)
		}
		if songs[1].ArtworkURL != "file:///music/Coldplay/Parachutes/cover.jpg" {
			t.Errorf("unexpected artwork %q", songs[1].ArtworkURL)
		}
		if !songs[0].Playable() {
			t.Error("expected local songs to be playable")
		}
	})

	t.Run("SongsForArtist orders by album then track", func(t *testing.T) {
		songs, err := svc.SongsForArtist(ctx, models.Artist{Name: "coldplay"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var titles []string
		for _, s := range songs {
			titles = append(titles, s.Title)
		}
		if strings.Join(titles, ",") != "Don't Panic,Shiver,Fix You" {
			t.Errorf("unexpected order %v", titles)
		}
	})

	t.Run("playlists", func(t *testing.T) {
		playlists, err := svc.ListPlaylists(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(playlists) != 1 || playlists[0].Name != "road trip" || playlists[0].SongCount != 3 {
			t.Fatalf("unexpected playlists %+v", playlists)
		}

		songs, err := svc.SongsForPlaylist(ctx, playlists[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(songs) != 2 || songs[0].Artist != "Keane" || songs[1].Title != "Shiver" {
			t.Errorf("expected playlist order without the missing entry, got %+v", songs)
		}

		songs, err = svc.SongsForPlaylist(ctx, models.Playlist{ID: "gone.m3u"})
		if err != nil || songs == nil || len(songs) != 0 {
			t.Errorf("expected empty result for a missing playlist, got %v, %v", songs, err)
		}
	})

	t.Run("Search", func(t *testing.T) {
		results, err := svc.Search(ctx, "shiver")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results.Songs) == 0 || results.Songs[0].Title != "Shiver" {
			t.Fatalf("expected Shiver first, got %+v", results.Songs)
		}
		if len(results.Albums) == 0 || results.Albums[0].Name != "Parachutes" {
			t.Errorf("expected Parachutes, got %+v", results.Albums)
		}
		if len(results.Artists) == 0 || results.Artists[0].Name != "Coldplay" {
			t.Errorf("expected Coldplay, got %+v", results.Artists)
		}

		empty, err := svc.Search(ctx, "  ")
		if err != nil || !empty.Empty() {
			t.Errorf("expected empty results, got %+v, %v", empty, err)
		}
	})

	t.Run("cancelled scan", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.ListAlbums(cctx)
		if !errors.Is(err, shared.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	})

	t.Run("bulk limit", func(t *testing.T) {
		limited, err := NewLocalService(map[string]string{"root": "/music"}, ClientOpts{Fs: newLocalLibrary(t), BulkLimit: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		login(t, limited, map[string]string{})
		songs, err := limited.scan(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(songs) != 2 {
			t.Errorf("expected 2 songs, got %d", len(songs))
		}
	})
}
