package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/formatter"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

const (
	KindAlbum    = "album"
	KindPlaylist = "playlist"
)

// Library is the slice of the player an export reads. [player.Controller] satisfies it.
type Library interface {
	Active() models.Backend
	BrowseAlbums(ctx context.Context) ([]models.Album, error)
	BrowsePlaylists(ctx context.Context) ([]models.Playlist, error)
	SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error)
	SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error)
}

// ExportOpts configures [Exporter.Export].
type ExportOpts struct {
	Kind      string           // album or playlist
	Format    formatter.Format // default text
	OutputDir string           // default polyplay_export_{epoch}
	Names     []string         // only containers with these names; empty means all
	Workers   int              // default 4, at most 10
	RateLimit float64          // container resolutions per second, default 5
}

// ContainerResult is the outcome for one album or playlist.
type ContainerResult struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Songs int      `json:"songs"`
	Files []string `json:"files,omitempty"`
	Error string   `json:"error,omitempty"`
	Err   error    `json:"-"`
}

// ExportResult summarizes a run and is written as manifest.json.
type ExportResult struct {
	Backend         models.Backend    `json:"backend"`
	Kind            string            `json:"kind"`
	Format          formatter.Format  `json:"format"`
	Total           int               `json:"total"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	OutputDirectory string            `json:"output_directory"`
	ManifestPath    string            `json:"-"`
	StartedAt       time.Time         `json:"started_at"`
	Results         []ContainerResult `json:"results"`
}

// Exporter writes a backend's albums or playlists to files, resolving several containers at
// once under a rate limit.
type Exporter struct {
	library Library
	writer  *formatter.Writer
	logger  *log.Logger
}

// NewExporter writes through fs, the OS filesystem when nil. client fetches artwork for Markdown.
func NewExporter(library Library, fs afero.Fs, client *http.Client, logger *log.Logger) *Exporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Exporter{
		library: library,
		writer:  &formatter.Writer{Fs: fs, Client: client},
		logger:  shared.WithLogger(logger, "component", "export"),
	}
}

type job struct {
	id, name, file string
	resolve        func(context.Context) ([]models.Song, error)
	export         func([]models.Song) *formatter.Export
}

// Export lists the containers, resolves and writes each one, then writes a manifest. A failed
// container is recorded in the result; only listing, cancellation and manifest failures are
// returned as errors.
func (e *Exporter) Export(ctx context.Context, progress chan<- ProgressUpdate, opts ExportOpts) (*ExportResult, error) {
	opts = withDefaults(opts)

	result := &ExportResult{
		Backend:         e.library.Active(),
		Kind:            opts.Kind,
		Format:          opts.Format,
		OutputDirectory: opts.OutputDir,
		StartedAt:       time.Now(),
		Results:         []ContainerResult{},
	}

	sendProgress(progress, fetchContainersUpdate(opts.Kind))
	jobs, err := e.jobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	result.Total = len(jobs)
	if len(jobs) == 0 {
		return result, fmt.Errorf("%w: no %ss to export", shared.ErrEntityNotFound, opts.Kind)
	}

	if err := e.writer.Fs.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	var done atomic.Int32

	p := pool.NewWithResults[ContainerResult]().WithContext(ctx).WithMaxGoroutines(opts.Workers)
	for i, j := range jobs {
		p.Go(func(ctx context.Context) (ContainerResult, error) {
			res := e.exportOne(ctx, limiter, i+1, len(jobs), j, opts, progress)
			step := int(done.Add(1))
			if res.Err != nil {
				sendProgress(progress, failedUpdate(step, len(jobs), res))
			} else {
				sendProgress(progress, writtenUpdate(step, len(jobs), res))
			}
			return res, nil
		})
	}
	results, _ := p.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].Name < results[b].Name })
	for _, r := range results {
		if r.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	result.Results = results

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: export interrupted after %d of %d", shared.ErrCancelled, len(results), len(jobs))
	}

	sendProgress(progress, ProgressUpdate{Phase: WriteManifest, Message: "Writing manifest..."})
	path := filepath.Join(opts.OutputDir, "manifest.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return result, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := afero.WriteFile(e.writer.Fs, path, data, 0644); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = path

	e.logger.Info("export finished", "backend", result.Backend, "kind", opts.Kind, "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func withDefaults(opts ExportOpts) ExportOpts {
	if opts.Kind == "" {
		opts.Kind = KindPlaylist
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatText
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("polyplay_export_%d", time.Now().Unix())
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	opts.Workers = min(opts.Workers, 10)
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	return opts
}

// jobs lists and filters the containers, assigning each a unique file stem.
func (e *Exporter) jobs(ctx context.Context, opts ExportOpts) ([]job, error) {
	wanted := make(map[string]bool, len(opts.Names))
	for _, n := range opts.Names {
		wanted[shared.NormalizeName(n)] = true
	}
	keep := func(name string) bool {
		return len(wanted) == 0 || wanted[shared.NormalizeName(name)]
	}

	var jobs []job
	switch opts.Kind {
	case KindAlbum:
		albums, err := e.library.BrowseAlbums(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list albums: %w", err)
		}
		for _, a := range albums {
			if !keep(a.Name) {
				continue
			}
			jobs = append(jobs, job{
				id:      a.ID,
				name:    a.Name,
				resolve: func(ctx context.Context) ([]models.Song, error) { return e.library.SongsForAlbum(ctx, a) },
				export:  func(songs []models.Song) *formatter.Export { return formatter.FromAlbum(a, songs) },
			})
		}
	case KindPlaylist:
		playlists, err := e.library.BrowsePlaylists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list playlists: %w", err)
		}
		for _, p := range playlists {
			if !keep(p.Name) {
				continue
			}
			jobs = append(jobs, job{
				id:      p.ID,
				name:    p.Name,
				resolve: func(ctx context.Context) ([]models.Song, error) { return e.library.SongsForPlaylist(ctx, p) },
				export:  func(songs []models.Song) *formatter.Export { return formatter.FromPlaylist(p, songs) },
			})
		}
	default:
		return nil, fmt.Errorf("%w: export kind %q", shared.ErrInvalidArgument, opts.Kind)
	}

	seen := make(map[string]int)
	for i := range jobs {
		stem := Slug(jobs[i].name)
		seen[stem]++
		if n := seen[stem]; n > 1 {
			stem = fmt.Sprintf("%s-%d", stem, n)
		}
		jobs[i].file = stem
	}
	return jobs, nil
}

func (e *Exporter) exportOne(ctx context.Context, limiter *rate.Limiter, step, total int, j job, opts ExportOpts, progress chan<- ProgressUpdate) ContainerResult {
	res := ContainerResult{ID: j.id, Name: j.name, Files: []string{}}
	fail := func(err error) ContainerResult {
		res.Err = err
		res.Error = shared.UserMessage(err)
		return res
	}

	if err := limiter.Wait(ctx); err != nil {
		return fail(fmt.Errorf("%w: %v", shared.ErrCancelled, err))
	}
	sendProgress(progress, resolveUpdate(step, total, j.name))

	songs, err := j.resolve(ctx)
	if err != nil && !errors.Is(err, shared.ErrEntityNotFound) {
		return fail(err)
	}
	res.Songs = len(songs)
	export := j.export(songs)

	if opts.Format == formatter.FormatMarkdown {
		md, err := e.writer.WriteMarkdown(ctx, export, filepath.Join(opts.OutputDir, j.file))
		if err != nil {
			return fail(err)
		}
		res.Files = md.Files
		return res
	}

	path := filepath.Join(opts.OutputDir, j.file+extension(opts.Format))
	if err := e.writer.Write(export, opts.Format, path); err != nil {
		return fail(err)
	}
	res.Files = append(res.Files, path)
	return res
}

func extension(f formatter.Format) string {
	switch f {
	case formatter.FormatCSV:
		return ".csv"
	case formatter.FormatJSON:
		return ".json"
	case formatter.FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// Slug lower-cases name and replaces every run of non-alphanumerics with one dash.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}
