// Local filesystem implementation of [Service]
//
// The library is a directory tree laid out as Artist/Album/NN - Title.ext. Playlists are .m3u files
// at the root. Nothing here carries a server-side identifier, so albums and artists use
// [models.SyntheticID] and songs use their path relative to the root.
package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/resolver"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/afero"
)

var (
	localAudioExts   = map[string]bool{".mp3": true, ".flac": true, ".ogg": true, ".opus": true, ".m4a": true, ".aac": true, ".wav": true}
	localCoverNames  = []string{"cover.jpg", "folder.jpg", "front.jpg"}
	localTrackPrefix = regexp.MustCompile(`^(\d{1,3})\s*(?:[-._]\s*|\s+)(.+)$`)
)

// LocalService implements [Service] over a directory of audio files.
type LocalService struct {
	session
	fs        afero.Fs
	root      string
	bulkLimit int
	logger    *log.Logger
}

// NewLocalService creates the adapter for credentials["root"]. The directory is checked by
// [LocalService.Authenticate], not here.
func NewLocalService(credentials map[string]string, opts ClientOpts) (*LocalService, error) {
	root, err := credential(credentials, "root")
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	limit := opts.BulkLimit
	if limit <= 0 {
		limit = resolver.DefaultBulkLimit
	}

	return &LocalService{
		fs:        fs,
		root:      filepath.Clean(root),
		bulkLimit: limit,
		logger:    shared.WithLogger(opts.Logger, "backend", string(models.BackendLocal)),
	}, nil
}

func (s *LocalService) Name() string {
	return "Local"
}

func (s *LocalService) Backend() models.Backend {
	return models.BackendLocal
}

// Authenticate opens a session when the root is a readable directory. Credentials may override
// the root.
func (s *LocalService) Authenticate(ctx context.Context, credentials map[string]string) (*SessionHandle, error) {
	s.clear()
	root := s.root
	if r := credentials["root"]; r != "" {
		root = filepath.Clean(r)
	}

	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", shared.ErrAuthFailed, root)
	}
	if _, err := afero.ReadDir(s.fs, root); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	s.logger.Info("opened library", "root", root)
	return s.set(models.BackendLocal, root, nil), nil
}

// dir is the session's root, or the configured one before authentication.
func (s *LocalService) dir() string {
	if root := s.token(); root != "" {
		return root
	}
	return s.root
}

// parseTrackName splits "03 - Title" into 3 and "Title". Names without a number prefix return 0.
func parseTrackName(base string) (int, string) {
	name := strings.TrimSuffix(base, path.Ext(base))
	m := localTrackPrefix.FindStringSubmatch(name)
	if m == nil {
		return 0, strings.TrimSpace(name)
	}
	n, _ := strconv.Atoi(m[1])
	return n, strings.TrimSpace(m[2])
}

func fileURL(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// scan walks the library and returns songs in path order, capped at the bulk limit.
func (s *LocalService) scan(ctx context.Context) ([]models.Song, error) {
	root, err := s.require(models.BackendLocal)
	if err != nil {
		return nil, err
	}

	songs := []models.Song{}
	err = afero.Walk(s.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || !localAudioExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if len(songs) >= s.bulkLimit {
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		var artist, album string
		switch {
		case len(parts) >= 3:
			artist, album = parts[0], parts[len(parts)-2]
		case len(parts) == 2:
			artist = parts[0]
		}

		track, title := parseTrackName(info.Name())
		song := models.NewSong(models.BackendLocal, filepath.ToSlash(rel), title, artist, album, 0, track).WithNative(p)
		songs = append(songs, song.WithStream(s.StreamURL(song)).WithArtwork(s.SongArtworkURL(song)))
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return nil, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
	}
	return songs, nil
}

func (s *LocalService) ListAlbums(ctx context.Context) ([]models.Album, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	index := map[string]int{}
	albums := []models.Album{}
	for _, song := range songs {
		if song.Album == "" {
			continue
		}
		id := models.SyntheticID(models.BackendLocal, song.Artist, song.Album)
		i, ok := index[id]
		if !ok {
			i = len(albums)
			index[id] = i
			albums = append(albums, models.Album{ID: id, Name: song.Album, Artist: song.Artist, Backend: models.BackendLocal})
		}
		albums[i].SongCount++
	}
	for i := range albums {
		albums[i].ArtworkURL = s.AlbumArtworkURL(albums[i])
	}
	return albums, nil
}

func (s *LocalService) ListArtists(ctx context.Context) ([]models.Artist, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	index := map[string]int{}
	artists := []models.Artist{}
	for _, song := range songs {
		if strings.TrimSpace(song.Artist) == "" {
			continue
		}
		id := models.SyntheticID(models.BackendLocal, song.Artist, "")
		i, ok := index[id]
		if !ok {
			i = len(artists)
			index[id] = i
			artists = append(artists, models.Artist{ID: id, Name: song.Artist, AlbumHint: song.Album, Backend: models.BackendLocal})
		}
		artists[i].SongCount++
	}
	return artists, nil
}

// readPlaylist returns the non-comment entries of an m3u file.
func (s *LocalService) readPlaylist(name string) ([]string, error) {
	f, err := s.fs.Open(filepath.Join(s.dir(), name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries, scanner.Err()
}

func (s *LocalService) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	root, err := s.require(models.BackendLocal)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}

	playlists := []models.Playlist{}
	for _, info := range infos {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), ".m3u") {
			continue
		}
		entries, err := s.readPlaylist(info.Name())
		if err != nil {
			s.logger.Warn("unreadable playlist", "name", info.Name(), "error", err)
			continue
		}
		playlists = append(playlists, models.Playlist{
			ID:        info.Name(),
			Name:      strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())),
			SongCount: len(entries),
			Backend:   models.BackendLocal,
		})
	}
	return playlists, nil
}

// SongsForAlbum applies the album rules to the scanned library, ordered by track number.
func (s *LocalService) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return resolver.SortByTrack(resolver.MatchAlbum(songs, album.Name, album.Artist)), nil
}

func (s *LocalService) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	matched := resolver.MatchArtist(songs, artist.Name)
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Album != matched[j].Album {
			return matched[i].Album < matched[j].Album
		}
		return matched[i].Track < matched[j].Track
	})
	return matched, nil
}

// SongsForPlaylist returns the playlist entries found in the library, in playlist order.
// Entries are paths relative to the root; missing files are skipped.
func (s *LocalService) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if playlist.ID == "" {
		return []models.Song{}, nil
	}

	entries, err := s.readPlaylist(playlist.ID)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Song{}, nil
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}

	byPath := make(map[string]models.Song, len(songs))
	for _, song := range songs {
		byPath[song.ID] = song
	}
	out := make([]models.Song, 0, len(entries))
	for _, entry := range entries {
		entry = filepath.ToSlash(entry)
		if filepath.IsAbs(entry) {
			if rel, err := filepath.Rel(s.dir(), entry); err == nil {
				entry = filepath.ToSlash(rel)
			}
		}
		if song, ok := byPath[path.Clean(entry)]; ok {
			out = append(out, song)
		}
	}
	return out, nil
}

type songTexts []models.Song

func (t songTexts) String(i int) string {
	return t[i].Title + " " + t[i].Artist + " " + t[i].Album
}

func (t songTexts) Len() int {
	return len(t)
}

// Search fuzzy-matches query against title, artist and album. Albums and artists are derived from
// the matching songs, in score order.
func (s *LocalService) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	songs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	results := &models.SearchResults{Songs: []models.Song{}, Albums: []models.Album{}, Artists: []models.Artist{}}
	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}

	seenAlbum, seenArtist := map[string]bool{}, map[string]bool{}
	for _, m := range fuzzy.FindFrom(query, songTexts(songs)) {
		song := songs[m.Index]
		results.Songs = append(results.Songs, song)

		if song.Album != "" {
			id := models.SyntheticID(models.BackendLocal, song.Artist, song.Album)
			if !seenAlbum[id] {
				seenAlbum[id] = true
				album := models.Album{ID: id, Name: song.Album, Artist: song.Artist, Backend: models.BackendLocal}
				results.Albums = append(results.Albums, album.WithArtwork(s.AlbumArtworkURL(album)))
			}
		}
		if song.Artist != "" {
			id := models.SyntheticID(models.BackendLocal, song.Artist, "")
			if !seenArtist[id] {
				seenArtist[id] = true
				results.Artists = append(results.Artists, models.Artist{ID: id, Name: song.Artist, Backend: models.BackendLocal})
			}
		}
	}
	return results, nil
}

// StreamURL returns a file:// URL, or "" without a session.
func (s *LocalService) StreamURL(song models.Song) string {
	if !s.Authenticated() || song.ID == "" {
		return ""
	}
	return fileURL(filepath.Join(s.dir(), filepath.FromSlash(song.ID)))
}

// SongArtworkURL returns the cover image next to the song's file.
func (s *LocalService) SongArtworkURL(song models.Song) string {
	if song.ID == "" {
		return ""
	}
	return s.cover(filepath.Dir(filepath.Join(s.dir(), filepath.FromSlash(song.ID))))
}

// AlbumArtworkURL looks for a cover image in Artist/Album.
func (s *LocalService) AlbumArtworkURL(album models.Album) string {
	if album.Name == "" || album.Artist == "" {
		return ""
	}
	return s.cover(filepath.Join(s.dir(), album.Artist, album.Name))
}

func (s *LocalService) cover(dir string) string {
	for _, name := range localCoverNames {
		p := filepath.Join(dir, name)
		if ok, _ := afero.Exists(s.fs, p); ok {
			return fileURL(p)
		}
	}
	return ""
}
