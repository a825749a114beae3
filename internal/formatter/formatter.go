// package formatter renders songs and their containers as text, Markdown, CSV and JSON
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/spf13/afero"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// Formats lists every accepted [Format].
var Formats = []Format{FormatText, FormatMarkdown, FormatCSV, FormatJSON}

// ParseFormat accepts a format name or a file extension (md, txt).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Export is a titled list of songs: an album, an artist, a playlist or search hits.
type Export struct {
	Kind       string         `json:"kind"`
	Name       string         `json:"name"`
	Secondary  string         `json:"secondary,omitempty"`
	Backend    models.Backend `json:"backend"`
	ArtworkURL string         `json:"artwork_url,omitempty"`
	Duration   int            `json:"duration"`
	Songs      []models.Song  `json:"songs"`
}

func FromAlbum(a models.Album, songs []models.Song) *Export {
	return newExport("album", a.Name, a.Artist, a.Backend, a.ArtworkURL, songs)
}

func FromArtist(a models.Artist, songs []models.Song) *Export {
	return newExport("artist", a.Name, a.AlbumHint, a.Backend, "", songs)
}

func FromPlaylist(p models.Playlist, songs []models.Song) *Export {
	return newExport("playlist", p.Name, p.Curator, p.Backend, "", songs)
}

// FromSongs wraps a bare song list, e.g. search results, under name.
func FromSongs(name string, backend models.Backend, songs []models.Song) *Export {
	return newExport("songs", name, "", backend, "", songs)
}

func newExport(kind, name, secondary string, b models.Backend, artwork string, songs []models.Song) *Export {
	if songs == nil {
		songs = []models.Song{}
	}
	total := 0
	for _, s := range songs {
		total += s.Duration
	}
	return &Export{Kind: kind, Name: name, Secondary: secondary, Backend: b, ArtworkURL: artwork, Duration: total, Songs: songs}
}

// Render encodes export in format.
func Render(export *Export, format Format) ([]byte, error) {
	switch format {
	case FormatText:
		return ExportToText(export)
	case FormatMarkdown:
		return ExportToMarkdown(export, "")
	case FormatCSV:
		return ExportToCSV(export)
	case FormatJSON:
		return ExportToJSON(export, true)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
}

// ExportToCSV writes one row per song: ID, Title, Artist, Album, Track, Duration, Backend.
func ExportToCSV(export *Export) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"ID", "Title", "Artist", "Album", "Track", "Duration", "Backend"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, s := range export.Songs {
		record := []string{s.ID, s.Title, s.Artist, s.Album, strconv.Itoa(s.Track), strconv.Itoa(s.Duration), string(s.Backend)}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown renders a heading, an optional cover image and a numbered song list.
func ExportToMarkdown(export *Export, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Name)
	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}
	if export.Secondary != "" {
		fmt.Fprintf(&buf, "**%s**: %s\n\n", secondaryLabel(export.Kind), export.Secondary)
	}
	fmt.Fprintf(&buf, "**Source**: %s\n", export.Backend)
	fmt.Fprintf(&buf, "**Songs**: %d (%s)\n\n", len(export.Songs), shared.FormatDuration(export.Duration))

	buf.WriteString("## Songs\n\n")
	for i, s := range export.Songs {
		album := ""
		if s.Album != "" && export.Kind != "album" {
			album = fmt.Sprintf(" (%s)", s.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, s.Artist, s.Title, album, shared.FormatDuration(s.Duration))
	}
	return buf.Bytes(), nil
}

func secondaryLabel(kind string) string {
	switch kind {
	case "album":
		return "Artist"
	case "playlist":
		return "Curator"
	case "artist":
		return "Album"
	}
	return "Info"
}

// ExportToText renders a plain numbered list.
func ExportToText(export *Export) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s: %s\n", titleCase(export.Kind), export.Name)
	if export.Secondary != "" {
		fmt.Fprintf(&buf, "%s: %s\n", secondaryLabel(export.Kind), export.Secondary)
	}
	fmt.Fprintf(&buf, "Songs: %d (%s)\n\n", len(export.Songs), shared.FormatDuration(export.Duration))

	for i, s := range export.Songs {
		fmt.Fprintf(&buf, "%d. %s - %s [%s]\n", i+1, s.Artist, s.Title, shared.FormatDuration(s.Duration))
	}
	return buf.Bytes(), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ExportToJSON marshals export, indented when pretty is set.
func ExportToJSON(export *Export, pretty bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(export, "", "  ")
	} else {
		data, err = json.Marshal(export)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// DownloadImage fetches artwork bytes.
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL", shared.ErrMissingArgument)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download image: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewHTTPError("artwork", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// Writer saves exports to a filesystem.
type Writer struct {
	Fs     afero.Fs
	Client *http.Client
}

// NewWriter writes to the OS filesystem.
func NewWriter() *Writer {
	return &Writer{Fs: afero.NewOsFs()}
}

// Write encodes export in format and saves it at path, creating parent directories.
func (w *Writer) Write(export *Export, format Format, path string) error {
	data, err := Render(export, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := w.Fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := afero.WriteFile(w.Fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// MarkdownExportResult lists the files written by [Writer.WriteMarkdown].
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteMarkdown creates dir/README.md and, when the export has artwork, dir/cover.jpg. A failed
// artwork download is reported in the result, not as an error.
func (w *Writer) WriteMarkdown(ctx context.Context, export *Export, dir string) (*MarkdownExportResult, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory", shared.ErrMissingArgument)
	}
	if err := w.Fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: dir, Files: []string{}}
	cover := ""
	if export.ArtworkURL != "" {
		if data, err := DownloadImage(ctx, w.Client, export.ArtworkURL); err == nil {
			path := filepath.Join(dir, "cover.jpg")
			if err := afero.WriteFile(w.Fs, path, data, 0644); err == nil {
				cover = "cover.jpg"
				result.CoverImage = path
				result.Files = append(result.Files, path)
			}
		}
	}

	md, err := ExportToMarkdown(export, cover)
	if err != nil {
		return nil, err
	}
	readme := filepath.Join(dir, "README.md")
	if err := afero.WriteFile(w.Fs, readme, md, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, readme)
	return result, nil
}
