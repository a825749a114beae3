package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/playback"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
	tu "github.com/desertthunder/polyplay/internal/testing"
	"github.com/urfave/cli/v3"
)

// syncBuffer is written by the command and read by the test concurrently during playback.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mockSubsonic() *tu.MockService {
	m := tu.NewMockService(models.BackendSubsonic)
	m.Albums = []models.Album{
		{ID: "al-1", Name: "Parachutes", Artist: "Coldplay", SongCount: 10, Backend: models.BackendSubsonic},
		{ID: "al-2", Name: "A Rush of Blood to the Head", Artist: "Coldplay", SongCount: 11, Backend: models.BackendSubsonic},
	}
	m.Artists = []models.Artist{{ID: "ar-1", Name: "Coldplay", Backend: models.BackendSubsonic}}
	m.Playlists = []models.Playlist{
		{ID: "pl-1", Name: "Road Trip", SongCount: 2, Curator: "sam", Backend: models.BackendSubsonic},
		{ID: "pl-2", Name: "Late Night", SongCount: 1, Backend: models.BackendSubsonic},
	}
	m.Songs["Parachutes"] = tu.MockSongs(models.BackendSubsonic, "Parachutes", 3)
	m.Songs["Road Trip"] = tu.MockSongs(models.BackendSubsonic, "Road", 2)
	m.Songs["Late Night"] = tu.MockSongs(models.BackendSubsonic, "Night", 1)
	return m
}

func loads(e *tu.FakeEngine) int {
	n := 0
	for _, c := range e.CommandLog() {
		if c == "load" {
			n++
		}
	}
	return n
}

type fixture struct {
	runner *Runner
	out    *syncBuffer
	engine *tu.FakeEngine
	cfg    *shared.Config
}

func newFixture(t *testing.T, svcs ...services.Service) *fixture {
	t.Helper()

	cfg := shared.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "polyplay.db")
	cfg.Playback.DefaultBackend = string(models.BackendSubsonic)
	cfg.Playback.ProgressIntervalMS = 20

	var byBackend map[models.Backend]services.Service
	if len(svcs) > 0 {
		byBackend = make(map[models.Backend]services.Service, len(svcs))
		for _, s := range svcs {
			byBackend[s.Backend()] = s
		}
	}

	f := &fixture{out: &syncBuffer{}, engine: tu.NewFakeEngine(), cfg: cfg}
	f.runner = NewRunner(RunnerOpts{
		Config:   cfg,
		Services: byBackend,
		Engine: func(*shared.Config, *log.Logger) (playback.MediaEngine, error) {
			return f.engine, nil
		},
		Output: f.out,
	})
	t.Cleanup(func() { f.runner.Close() })
	return f
}

func (f *fixture) run(ctx context.Context, args ...string) error {
	app := &cli.Command{
		Name: "polyplay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.toml"},
		},
		Commands: f.runner.register(),
	}
	return app.Run(ctx, append([]string{"polyplay"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			svcs := map[models.Backend]services.Service{models.BackendSubsonic: mockSubsonic()}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Services:   svcs,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if len(runner.services) != 1 {
				t.Error("expected services to be set")
			}
		})

		t.Run("defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.newEngine == nil {
				t.Error("expected default engine factory")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if want := `{"key":"value"}` + "\n"; output.String() != want {
				t.Errorf("expected %q, got %q", want, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		seen := map[string]bool{}
		for i, cmd := range runner.register() {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			if seen[cmd.Name] {
				t.Errorf("command %q registered twice", cmd.Name)
			}
			seen[cmd.Name] = true
		}
		for _, name := range []string{"setup", "config", "auth", "browse", "songs", "search", "play", "history", "export", "tui"} {
			if !seen[name] {
				t.Errorf("expected command %q", name)
			}
		}
	})

	t.Run("loadConfig", func(t *testing.T) {
		t.Run("missing file uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")})

			cfg, err := runner.loadConfig(nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if cfg.Server.Port != 7890 {
				t.Errorf("expected default port, got %d", cfg.Server.Port)
			}
		})

		t.Run("reads the file once", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := shared.CreateConfigFile(path); err != nil {
				t.Fatalf("failed to create config: %v", err)
			}
			runner := NewRunner(RunnerOpts{ConfigPath: path})

			first, err := runner.loadConfig(nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			second, _ := runner.loadConfig(nil)
			if first != second {
				t.Error("expected the loaded config to be cached")
			}
		})

		t.Run("malformed file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte("[database\npath = "), 0644); err != nil {
				t.Fatal(err)
			}
			runner := NewRunner(RunnerOpts{ConfigPath: path})
			if _, err := runner.loadConfig(nil); err == nil {
				t.Error("expected parse error")
			}
		})
	})
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("setup creates config and database", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		out := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: out})
		t.Cleanup(func() { runner.Close() })

		app := &cli.Command{
			Name:     "polyplay",
			Flags:    []cli.Flag{&cli.StringFlag{Name: "config"}},
			Commands: runner.register(),
		}
		wd, _ := os.Getwd()
		if err := os.Chdir(dir); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.Chdir(wd) })

		if err := app.Run(ctx, []string{"polyplay", "--config", path, "setup"}); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected config file: %v", err)
		}
		if !strings.Contains(out.String(), "✓ Database ready") {
			t.Errorf("unexpected output %q", out.String())
		}
	})

	t.Run("config set, show and unset", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(ctx, "config", "set", "subsonic", "password", "secret"); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		if !strings.Contains(f.out.String(), "subsonic.password = se**et") {
			t.Errorf("expected masked confirmation, got %q", f.out.String())
		}

		f.out = &syncBuffer{}
		f.runner.output = f.out
		if err := f.run(ctx, "config", "show", "--json"); err != nil {
			t.Fatalf("show failed: %v", err)
		}
		var shown map[string]map[string]string
		if err := json.Unmarshal([]byte(f.out.String()), &shown); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if shown["subsonic"]["password"] != "se**et" {
			t.Errorf("expected masked password, got %q", shown["subsonic"]["password"])
		}
		if shown["subsonic"]["base_url"] != "http://localhost:4533" {
			t.Errorf("expected config file base_url, got %q", shown["subsonic"]["base_url"])
		}

		if err := f.run(ctx, "config", "unset", "subsonic", "password"); err != nil {
			t.Fatalf("unset failed: %v", err)
		}
		values, err := f.runner.store.Settings.ForBackend(ctx, "subsonic")
		if err != nil || len(values) != 0 {
			t.Errorf("expected no stored settings, got %v %v", values, err)
		}
	})

	t.Run("config set rejects bad input", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(ctx, "config", "set", "subsonic", "token", "x"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for unknown key, got %v", err)
		}
		if err := f.run(ctx, "config", "set", "subsonic", "base_url", "ftp://nas"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for bad URL, got %v", err)
		}
		if err := f.run(ctx, "config", "set", "jukebox", "root", "/x"); !errors.Is(err, shared.ErrUnknownBackend) {
			t.Errorf("expected ErrUnknownBackend, got %v", err)
		}
		if err := f.run(ctx, "config", "set", "local"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("browse", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())

		if err := f.run(ctx, "browse", "albums"); err != nil {
			t.Fatalf("browse failed: %v", err)
		}
		out := f.out.String()
		if !strings.Contains(out, "Found 2 albums on subsonic") || !strings.Contains(out, "1. Parachutes - Coldplay (10 songs)") {
			t.Errorf("unexpected output:\n%s", out)
		}

		f.out = &syncBuffer{}
		f.runner.output = f.out
		if err := f.run(ctx, "browse", "playlists", "--json", "--limit", "1"); err != nil {
			t.Fatalf("browse failed: %v", err)
		}
		var playlists []models.Playlist
		if err := json.Unmarshal([]byte(f.out.String()), &playlists); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(playlists) != 1 || playlists[0].Name != "Road Trip" {
			t.Errorf("unexpected playlists %+v", playlists)
		}
	})

	t.Run("backend selection", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())

		if err := f.run(ctx, "browse", "albums", "--backend", "jukebox"); !errors.Is(err, shared.ErrUnknownBackend) {
			t.Errorf("expected ErrUnknownBackend, got %v", err)
		}
		if err := f.run(ctx, "browse", "albums", "--backend", "catalog"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("songs", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())

		if err := f.run(ctx, "songs", "--album", "  PARACHUTES "); err != nil {
			t.Fatalf("songs failed: %v", err)
		}
		out := f.out.String()
		if !strings.Contains(out, "album: Parachutes") || !strings.Contains(out, "3. Mock Artist - Parachutes 3 [3:00]") {
			t.Errorf("unexpected output:\n%s", out)
		}

		if err := f.run(ctx, "songs"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if err := f.run(ctx, "songs", "--album", "x", "--playlist", "y"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if err := f.run(ctx, "songs", "--playlist", "zzz"); !errors.Is(err, shared.ErrEntityNotFound) {
			t.Errorf("expected ErrEntityNotFound, got %v", err)
		}
	})

	t.Run("search", func(t *testing.T) {
		m := mockSubsonic()
		f := newFixture(t, m)

		if err := f.run(ctx, "search", "nothing"); err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if !strings.Contains(f.out.String(), `No results for "nothing"`) {
			t.Errorf("unexpected output %q", f.out.String())
		}

		m.Results = &models.SearchResults{
			Songs:   tu.MockSongs(models.BackendSubsonic, "Yellow", 1),
			Albums:  m.Albums[:1],
			Artists: m.Artists,
		}
		f.out = &syncBuffer{}
		f.runner.output = f.out
		if err := f.run(ctx, "search", "yellow"); err != nil {
			t.Fatalf("search failed: %v", err)
		}
		out := f.out.String()
		for _, want := range []string{"Songs:", "Yellow 1", "Albums:", "Parachutes - Coldplay", "Artists:"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}

		if err := f.run(ctx, "search"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("auth check", func(t *testing.T) {
		bad := tu.NewMockService(models.BackendAudioStation)
		bad.AuthErr = shared.ErrNotAuthenticated
		f := newFixture(t, mockSubsonic(), bad)

		err := f.run(ctx, "auth", "check")
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		out := f.out.String()
		if !strings.Contains(out, "✓ subsonic") || !strings.Contains(out, "✗ audiostation") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("history", func(t *testing.T) {
		f := newFixture(t)
		store, err := f.runner.openStore(f.cfg)
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		song := tu.MockSongs(models.BackendSubsonic, "Yellow", 1)[0]
		if err := store.History.RecordPlay(ctx, song, time.Now().Add(-48*time.Hour)); err != nil {
			t.Fatal(err)
		}

		if err := f.run(ctx, "history"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(f.out.String(), "Mock Artist - Yellow 1") {
			t.Errorf("unexpected output %q", f.out.String())
		}

		if err := f.run(ctx, "history", "clear", "--older-than", "72h"); err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if !strings.Contains(f.out.String(), "Removed 0 entries") {
			t.Errorf("expected nothing removed, got %q", f.out.String())
		}
		if err := f.run(ctx, "history", "clear"); err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if !strings.Contains(f.out.String(), "Removed 1 entries") {
			t.Errorf("expected one removed, got %q", f.out.String())
		}
	})

	t.Run("export", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())
		dir := filepath.Join(t.TempDir(), "out")

		if err := f.run(ctx, "export", "--format", "csv", "--output", dir); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		for _, name := range []string{"road-trip.csv", "late-night.csv", "manifest.json"} {
			tu.AssertFileExists(t, filepath.Join(dir, name))
		}
		if csv := tu.MustReadFile(t, filepath.Join(dir, "road-trip.csv")); !strings.HasPrefix(csv, "ID,Title,Artist") {
			t.Errorf("unexpected csv header:\n%s", csv)
		}
		if !strings.Contains(f.out.String(), "Exported 2 of 2 playlists from subsonic") {
			t.Errorf("unexpected output:\n%s", f.out.String())
		}

		if err := f.run(ctx, "export", "--format", "pdf"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("play follows the queue to the end", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())

		done := make(chan error, 1)
		go func() {
			done <- f.run(ctx, "play", "--playlist", "road trip")
		}()

		for i := 1; i <= 2; i++ {
			tu.Eventually(t, 2*time.Second, func() bool { return loads(f.engine) >= i }, "song loaded")
			f.engine.Emit(playback.MediaReady)
			want := fmt.Sprintf("Road %d", i)
			tu.Eventually(t, 2*time.Second, func() bool { return strings.Contains(f.out.String(), want) }, "now playing printed")
			f.engine.Emit(playback.ReachedEnd)
		}

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("play failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("play did not return at the end of the queue")
		}

		out := f.out.String()
		if !strings.Contains(out, `Playing playlist "Road Trip" on subsonic (2 songs)`) || !strings.Contains(out, "■ finished") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("play rejects a bad repeat mode", func(t *testing.T) {
		f := newFixture(t, mockSubsonic())
		if err := f.run(ctx, "play", "--playlist", "road trip", "--repeat", "twice"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPickByName(t *testing.T) {
	names := []string{"Parachutes", "A Rush of Blood to the Head", "X&Y"}

	tests := []struct {
		query string
		want  int
	}{
		{"parachutes", 0},
		{" x&y ", 2},
		{"rush blood", 1},
		{"prchts", 0},
	}
	for _, tt := range tests {
		got, err := pickByName(names, tt.query)
		if err != nil || got != tt.want {
			t.Errorf("pickByName(%q) = %d, %v; want %d", tt.query, got, err, tt.want)
		}
	}

	if _, err := pickByName(names, "qqq"); !errors.Is(err, shared.ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestMask(t *testing.T) {
	if got := mask("abc"); got != "***" {
		t.Errorf("expected full mask for short values, got %q", got)
	}
	if got := mask("supersecret"); got != "su*******et" {
		t.Errorf("unexpected mask %q", got)
	}
}
