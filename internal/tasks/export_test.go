package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/polyplay/internal/formatter"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	tt "github.com/desertthunder/polyplay/internal/testing"
	"github.com/spf13/afero"
)

// library exposes a MockService under the player's method names.
type library struct {
	*tt.MockService
}

func (l library) Active() models.Backend { return l.Tag }

func (l library) BrowseAlbums(ctx context.Context) ([]models.Album, error) {
	return l.ListAlbums(ctx)
}

func (l library) BrowsePlaylists(ctx context.Context) ([]models.Playlist, error) {
	return l.ListPlaylists(ctx)
}

func newLibrary(t *testing.T) library {
	t.Helper()
	m := tt.NewMockService(models.BackendSubsonic)
	m.Playlists = []models.Playlist{
		{ID: "pl-1", Name: "Road Trip", Backend: models.BackendSubsonic},
		{ID: "pl-2", Name: "Late Night", Backend: models.BackendSubsonic},
		{ID: "pl-3", Name: "Empty", Backend: models.BackendSubsonic},
	}
	m.Albums = []models.Album{
		{ID: "al-1", Name: "Parachutes", Artist: "Coldplay", Backend: models.BackendSubsonic},
	}
	m.Songs["Road Trip"] = tt.MockSongs(models.BackendSubsonic, "Road", 3)
	m.Songs["Late Night"] = tt.MockSongs(models.BackendSubsonic, "Night", 2)
	m.Songs["Parachutes"] = tt.MockSongs(models.BackendSubsonic, "Parachutes", 10)
	if _, err := m.Authenticate(context.Background(), nil); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return library{m}
}

func TestExporter(t *testing.T) {
	ctx := context.Background()

	t.Run("exports every playlist and writes a manifest", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := NewExporter(newLibrary(t), fs, nil, nil)
		progress := make(chan ProgressUpdate, 64)

		res, err := e.Export(ctx, progress, ExportOpts{OutputDir: "out", RateLimit: 100})
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if res.Total != 3 || res.Succeeded != 3 || res.Failed != 0 {
			t.Errorf("unexpected totals %+v", res)
		}
		if res.Results[0].Name != "Empty" || res.Results[0].Songs != 0 {
			t.Errorf("expected results sorted by name, got %+v", res.Results[0])
		}

		data, err := afero.ReadFile(fs, filepath.Join("out", "road-trip.txt"))
		if err != nil {
			t.Fatalf("missing playlist file: %v", err)
		}
		if !strings.Contains(string(data), "Road 3") {
			t.Errorf("playlist file missing songs:\n%s", data)
		}

		manifest, err := afero.ReadFile(fs, res.ManifestPath)
		if err != nil {
			t.Fatalf("missing manifest: %v", err)
		}
		var decoded ExportResult
		if err := json.Unmarshal(manifest, &decoded); err != nil {
			t.Fatalf("manifest is not JSON: %v", err)
		}
		if decoded.Backend != models.BackendSubsonic || len(decoded.Results) != 3 {
			t.Errorf("unexpected manifest %+v", decoded)
		}

		close(progress)
		phases := map[Phase]int{}
		for u := range progress {
			phases[u.Phase]++
		}
		if phases[FetchContainers] != 1 || phases[WriteFiles] != 3 || phases[WriteManifest] != 1 {
			t.Errorf("unexpected progress phases %v", phases)
		}
	})

	t.Run("albums as markdown directories", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := NewExporter(newLibrary(t), fs, nil, nil)

		res, err := e.Export(ctx, nil, ExportOpts{Kind: KindAlbum, Format: formatter.FormatMarkdown, OutputDir: "md", RateLimit: 100})
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if res.Succeeded != 1 {
			t.Fatalf("expected one album, got %+v", res)
		}
		if ok, _ := afero.Exists(fs, filepath.Join("md", "parachutes", "README.md")); !ok {
			t.Error("expected README.md in the album directory")
		}
	})

	t.Run("name filter", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		e := NewExporter(newLibrary(t), fs, nil, nil)

		res, err := e.Export(ctx, nil, ExportOpts{Names: []string{"late night"}, Format: formatter.FormatCSV, OutputDir: "csv", RateLimit: 100})
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if res.Total != 1 || res.Results[0].Files[0] != filepath.Join("csv", "late-night.csv") {
			t.Errorf("unexpected result %+v", res.Results)
		}
	})

	t.Run("nothing matches", func(t *testing.T) {
		e := NewExporter(newLibrary(t), afero.NewMemMapFs(), nil, nil)
		_, err := e.Export(ctx, nil, ExportOpts{Names: []string{"nope"}, OutputDir: "x"})
		if !errors.Is(err, shared.ErrEntityNotFound) {
			t.Errorf("expected ErrEntityNotFound, got %v", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		e := NewExporter(newLibrary(t), afero.NewMemMapFs(), nil, nil)
		_, err := e.Export(ctx, nil, ExportOpts{Kind: "artist", OutputDir: "x"})
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("listing failure", func(t *testing.T) {
		lib := newLibrary(t)
		lib.Hook = func(ctx context.Context, call string) error {
			return shared.ErrNetwork
		}
		e := NewExporter(lib, afero.NewMemMapFs(), nil, nil)
		if _, err := e.Export(ctx, nil, ExportOpts{OutputDir: "x"}); !errors.Is(err, shared.ErrNetwork) {
			t.Errorf("expected ErrNetwork, got %v", err)
		}
	})

	t.Run("one failing container does not stop the rest", func(t *testing.T) {
		lib := newLibrary(t)
		lib.Hook = func(ctx context.Context, call string) error {
			if call == "playlist:Late Night" {
				return shared.NewHTTPError("subsonic", 503)
			}
			return nil
		}
		fs := afero.NewMemMapFs()
		e := NewExporter(lib, fs, nil, nil)

		res, err := e.Export(ctx, nil, ExportOpts{OutputDir: "out", RateLimit: 100})
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if res.Succeeded != 2 || res.Failed != 1 {
			t.Fatalf("expected 2 ok and 1 failed, got %+v", res)
		}
		for _, r := range res.Results {
			if r.Name == "Late Night" && (r.Err == nil || r.Error == "") {
				t.Errorf("expected recorded failure, got %+v", r)
			}
		}
		if ok, _ := afero.Exists(fs, filepath.Join("out", "late-night.txt")); ok {
			t.Error("failed playlist should not be written")
		}
	})

	t.Run("workers are bounded", func(t *testing.T) {
		lib := newLibrary(t)
		var running, peak atomic.Int32
		lib.Hook = func(ctx context.Context, call string) error {
			if !strings.HasPrefix(call, "playlist:") {
				return nil
			}
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}
		e := NewExporter(lib, afero.NewMemMapFs(), nil, nil)

		if _, err := e.Export(ctx, nil, ExportOpts{OutputDir: "out", Workers: 1, RateLimit: 1000}); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		if peak.Load() != 1 {
			t.Errorf("expected at most one concurrent resolution, got %d", peak.Load())
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		lib := newLibrary(t)
		ctx, cancel := context.WithCancel(ctx)
		lib.Hook = func(c context.Context, call string) error {
			if strings.HasPrefix(call, "playlist:") {
				cancel()
			}
			return nil
		}
		e := NewExporter(lib, afero.NewMemMapFs(), nil, nil)

		_, err := e.Export(ctx, nil, ExportOpts{OutputDir: "out", Workers: 1, RateLimit: 1000})
		if !errors.Is(err, shared.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	})
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Road Trip":          "road-trip",
		"  AC/DC -- Live!  ": "ac-dc-live",
		"Björk":              "björk",
		"???":                "untitled",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSendProgress(t *testing.T) {
	t.Run("nil channel", func(t *testing.T) {
		sendProgress(nil, ProgressUpdate{})
	})

	t.Run("full channel drops", func(t *testing.T) {
		ch := make(chan ProgressUpdate, 1)
		sendProgress(ch, ProgressUpdate{Step: 1})
		sendProgress(ch, ProgressUpdate{Step: 2})
		if u := <-ch; u.Step != 1 {
			t.Errorf("expected first update kept, got %d", u.Step)
		}
	})
}
