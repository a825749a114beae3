// AudioStation implementation of [Service]
//
// The Synology Web API has song IDs but no album or artist identifiers, and no call that lists a
// container's songs reliably. Container membership goes through [resolver.Engine].
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/resolver"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

const (
	synoAuthPath  = "/webapi/auth.cgi"
	synoAudioPath = "/webapi/AudioStation/"
	synoSongExtra = "song_tag,song_audio"
)

type synoAPI struct {
	cgi     string
	name    string
	version int
}

var (
	synoSongAPI     = synoAPI{"song.cgi", "SYNO.AudioStation.Song", 3}
	synoAlbumAPI    = synoAPI{"album.cgi", "SYNO.AudioStation.Album", 3}
	synoArtistAPI   = synoAPI{"artist.cgi", "SYNO.AudioStation.Artist", 4}
	synoPlaylistAPI = synoAPI{"playlist.cgi", "SYNO.AudioStation.Playlist", 3}
	synoSearchAPI   = synoAPI{"search.cgi", "SYNO.AudioStation.Search", 1}
)

type synoError struct {
	Code int `json:"code"`
}

type synoEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *synoError      `json:"error"`
}

type synoAuthData struct {
	SID   string `json:"sid"`
	Token string `json:"token"`
}

type synoSong struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	Additional struct {
		SongTag struct {
			Album       string `json:"album"`
			Artist      string `json:"artist"`
			AlbumArtist string `json:"album_artist"`
			Track       int    `json:"track"`
		} `json:"song_tag"`
		SongAudio struct {
			Duration int `json:"duration"`
		} `json:"song_audio"`
	} `json:"additional"`
}

type synoAlbum struct {
	Name          string `json:"name"`
	AlbumArtist   string `json:"album_artist"`
	Artist        string `json:"artist"`
	DisplayArtist string `json:"display_artist"`
}

type synoArtist struct {
	Name string `json:"name"`
}

type synoPlaylist struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Library string `json:"library"`
}

var (
	synoSongShapes     = []Shape[synoSong]{field[synoSong]("songs"), field[synoSong]("items"), bare[synoSong]()}
	synoAlbumShapes    = []Shape[synoAlbum]{field[synoAlbum]("albums"), field[synoAlbum]("items")}
	synoArtistShapes   = []Shape[synoArtist]{field[synoArtist]("artists"), field[synoArtist]("items")}
	synoPlaylistShapes = []Shape[synoPlaylist]{field[synoPlaylist]("playlists"), field[synoPlaylist]("items")}
)

// AudioStationService implements [Service] and [resolver.Source] for Synology AudioStation.
type AudioStationService struct {
	session
	client    *restClient
	resolver  *resolver.Engine
	bulkLimit int
	logger    *log.Logger
}

// NewAudioStationService creates the adapter. Credentials must include base_url.
func NewAudioStationService(credentials map[string]string, opts ClientOpts) (*AudioStationService, error) {
	opts = opts.withDefaults()
	client, err := newRESTClient(models.BackendAudioStation, credentials["base_url"], opts)
	if err != nil {
		return nil, err
	}

	limit := opts.BulkLimit
	if limit <= 0 {
		limit = resolver.DefaultBulkLimit
	}

	s := &AudioStationService{client: client, bulkLimit: limit, logger: client.logger}
	s.resolver = resolver.NewEngine(s, limit, client.logger)
	return s, nil
}

func (s *AudioStationService) Name() string {
	return "AudioStation"
}

func (s *AudioStationService) Backend() models.Backend {
	return models.BackendAudioStation
}

// Authenticate logs in with username and password and keeps the returned sid.
func (s *AudioStationService) Authenticate(ctx context.Context, credentials map[string]string) (*SessionHandle, error) {
	username, err := credential(credentials, "username")
	if err != nil {
		return nil, err
	}
	password, err := credential(credentials, "password")
	if err != nil {
		return nil, err
	}

	s.clear()
	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"3"},
		"method":  {"login"},
		"account": {username},
		"passwd":  {password},
		"session": {"AudioStation"},
		"format":  {"sid"},
	}

	var env synoEnvelope
	if err := s.client.getJSON(ctx, synoAuthPath, params, nil, &env); err != nil {
		return nil, fmt.Errorf("audiostation login failed: %w", err)
	}
	if !env.Success {
		code := 0
		if env.Error != nil {
			code = env.Error.Code
		}
		return nil, fmt.Errorf("%w: audiostation error %d", shared.ErrAuthFailed, code)
	}

	var data synoAuthData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: login response: %v", shared.ErrDecoding, err)
	}
	token := data.SID
	if token == "" {
		token = data.Token
	}
	if token == "" {
		return nil, fmt.Errorf("%w: login response carried no session id", shared.ErrAuthFailed)
	}

	s.logger.Info("authenticated", "account", username)
	return s.set(models.BackendAudioStation, token, nil), nil
}

func synoErr(code int) error {
	switch code {
	case 105, 106, 107, 119:
		return fmt.Errorf("%w: audiostation error %d", shared.ErrNotAuthenticated, code)
	default:
		return fmt.Errorf("%w: audiostation error %d", shared.ErrServiceUnavailable, code)
	}
}

// call runs method on api and returns the envelope's data.
func (s *AudioStationService) call(ctx context.Context, api synoAPI, method string, params url.Values) (json.RawMessage, error) {
	sid, err := s.require(models.BackendAudioStation)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api", api.name)
	params.Set("version", strconv.Itoa(api.version))
	params.Set("method", method)
	params.Set("_sid", sid)

	var env synoEnvelope
	if err := s.client.getJSON(ctx, synoAudioPath+api.cgi, params, nil, &env); err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			s.clear()
		}
		return nil, err
	}
	if !env.Success {
		code := 0
		if env.Error != nil {
			code = env.Error.Code
		}
		err := synoErr(code)
		if errors.Is(err, shared.ErrNotAuthenticated) {
			s.clear()
		}
		return nil, err
	}
	return env.Data, nil
}

// tolerate turns a decoding failure into "no data".
func (s *AudioStationService) tolerate(what string, err error) error {
	if errors.Is(err, shared.ErrDecoding) {
		s.logger.Warn("unexpected response shape", "call", what, "error", err)
		return nil
	}
	return err
}

func (s *AudioStationService) songs(ctx context.Context, method string, params url.Values) ([]models.Song, error) {
	params.Set("additional", synoSongExtra)
	params.Set("library", "shared")
	data, err := s.call(ctx, synoSongAPI, method, params)
	if err != nil {
		return []models.Song{}, s.tolerate("song."+method, err)
	}

	res := decodeShapes(data, synoSongShapes...)
	if !res.OK {
		s.logger.Debug("no songs decoded", "method", method)
		return []models.Song{}, nil
	}
	out := make([]models.Song, 0, len(res.Items))
	for _, raw := range res.Items {
		out = append(out, s.song(raw))
	}
	return out, nil
}

func (s *AudioStationService) song(raw synoSong) models.Song {
	tag := raw.Additional.SongTag
	title := raw.Title
	if title == "" && raw.Path != "" {
		title = strings.TrimSuffix(path.Base(raw.Path), path.Ext(raw.Path))
	}
	artist := tag.Artist
	if artist == "" {
		artist = tag.AlbumArtist
	}
	song := models.NewSong(models.BackendAudioStation, raw.ID, title, artist, tag.Album, raw.Additional.SongAudio.Duration, tag.Track).
		WithNative(raw.ID)
	return song.WithStream(s.StreamURL(song)).WithArtwork(s.SongArtworkURL(song))
}

// ListAlbums returns every album. Album IDs are synthetic.
func (s *AudioStationService) ListAlbums(ctx context.Context) ([]models.Album, error) {
	data, err := s.call(ctx, synoAlbumAPI, "list", url.Values{
		"library": {"shared"},
		"limit":   {strconv.Itoa(s.bulkLimit)},
	})
	if err != nil {
		return []models.Album{}, s.tolerate("album.list", err)
	}
	return s.albums(data), nil
}

func (s *AudioStationService) albums(data json.RawMessage) []models.Album {
	res := decodeShapes(data, synoAlbumShapes...)
	out := make([]models.Album, 0, len(res.Items))
	for _, raw := range res.Items {
		artist := raw.AlbumArtist
		if artist == "" {
			artist = raw.DisplayArtist
		}
		if artist == "" {
			artist = raw.Artist
		}
		album := models.Album{
			ID:      models.SyntheticID(models.BackendAudioStation, artist, raw.Name),
			Name:    raw.Name,
			Artist:  artist,
			Songs:   []models.Song{},
			Backend: models.BackendAudioStation,
			Native:  raw,
		}
		out = append(out, album.WithArtwork(s.AlbumArtworkURL(album)))
	}
	return out
}

// ListArtists returns every artist. Artist IDs are synthetic.
func (s *AudioStationService) ListArtists(ctx context.Context) ([]models.Artist, error) {
	data, err := s.call(ctx, synoArtistAPI, "list", url.Values{
		"library": {"shared"},
		"limit":   {strconv.Itoa(s.bulkLimit)},
	})
	if err != nil {
		return []models.Artist{}, s.tolerate("artist.list", err)
	}
	return s.artists(data), nil
}

func (s *AudioStationService) artists(data json.RawMessage) []models.Artist {
	res := decodeShapes(data, synoArtistShapes...)
	out := make([]models.Artist, 0, len(res.Items))
	for _, raw := range res.Items {
		if raw.Name == "" {
			continue
		}
		out = append(out, models.Artist{
			ID:      models.SyntheticID(models.BackendAudioStation, raw.Name, ""),
			Name:    raw.Name,
			Songs:   []models.Song{},
			Backend: models.BackendAudioStation,
			Native:  raw,
		})
	}
	return out
}

// ListPlaylists returns shared and personal playlists.
func (s *AudioStationService) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	data, err := s.call(ctx, synoPlaylistAPI, "list", url.Values{
		"library": {"all"},
		"limit":   {strconv.Itoa(s.bulkLimit)},
	})
	if err != nil {
		return []models.Playlist{}, s.tolerate("playlist.list", err)
	}

	res := decodeShapes(data, synoPlaylistShapes...)
	out := make([]models.Playlist, 0, len(res.Items))
	for _, raw := range res.Items {
		out = append(out, models.Playlist{
			ID:      raw.ID,
			Name:    raw.Name,
			Curator: raw.Library,
			Songs:   []models.Song{},
			Backend: models.BackendAudioStation,
			Native:  raw,
		})
	}
	return out, nil
}

func (s *AudioStationService) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	if _, err := s.require(models.BackendAudioStation); err != nil {
		return nil, err
	}
	return s.resolver.ResolveAlbum(ctx, album)
}

func (s *AudioStationService) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	if _, err := s.require(models.BackendAudioStation); err != nil {
		return nil, err
	}
	return s.resolver.ResolveArtist(ctx, artist)
}

func (s *AudioStationService) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	if _, err := s.require(models.BackendAudioStation); err != nil {
		return nil, err
	}
	return s.resolver.ResolvePlaylist(ctx, playlist)
}

// Search runs the song, album and artist searches concurrently.
//
// Partial results are returned when only some searches fail, unless a failure is an authorization error.
func (s *AudioStationService) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	if _, err := s.require(models.BackendAudioStation); err != nil {
		return nil, err
	}

	var (
		results                      models.SearchResults
		songErr, albumErr, artistErr error
		wg                           conc.WaitGroup
	)

	wg.Go(func() {
		results.Songs, songErr = s.SearchSongs(ctx, query)
	})
	wg.Go(func() {
		data, err := s.call(ctx, synoAlbumAPI, "list", url.Values{"library": {"shared"}, "keyword": {query}})
		if albumErr = s.tolerate("album.search", err); err == nil {
			results.Albums = s.albums(data)
		}
	})
	wg.Go(func() {
		data, err := s.call(ctx, synoArtistAPI, "list", url.Values{"library": {"shared"}, "keyword": {query}})
		if artistErr = s.tolerate("artist.search", err); err == nil {
			results.Artists = s.artists(data)
		}
	})
	wg.Wait()

	err := multierr.Combine(songErr, albumErr, artistErr)
	if err != nil && (errors.Is(err, shared.ErrNotAuthenticated) || len(multierr.Errors(err)) == 3) {
		return nil, fmt.Errorf("audiostation search failed: %w", err)
	}
	if err != nil {
		s.logger.Warn("partial search results", "query", query, "error", err)
	}

	if results.Songs == nil {
		results.Songs = []models.Song{}
	}
	if results.Albums == nil {
		results.Albums = []models.Album{}
	}
	if results.Artists == nil {
		results.Artists = []models.Artist{}
	}
	return &results, nil
}

// ListAllSongs returns up to limit songs from the shared library.
func (s *AudioStationService) ListAllSongs(ctx context.Context, limit int) ([]models.Song, error) {
	if limit <= 0 {
		limit = s.bulkLimit
	}
	return s.songs(ctx, "list", url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {"0"},
	})
}

// QuerySongs asks for an artist's songs using one of the parameter shapes the API accepts.
func (s *AudioStationService) QuerySongs(ctx context.Context, shape resolver.QueryShape, artist string) ([]models.Song, error) {
	params := url.Values{
		"artist": {artist},
		"limit":  {strconv.Itoa(s.bulkLimit)},
	}
	switch shape {
	case resolver.ListByArtist:
		return s.songs(ctx, "list", params)
	case resolver.SearchByArtist:
		return s.songs(ctx, "search", params)
	case resolver.ListByArtistSorted:
		params.Set("sort_by", "album")
		params.Set("sort_direction", "ASC")
		return s.songs(ctx, "list", params)
	default:
		return nil, fmt.Errorf("%w: query shape %s", shared.ErrInvalidArgument, shape)
	}
}

// SearchSongs runs a free-text song search.
func (s *AudioStationService) SearchSongs(ctx context.Context, query string) ([]models.Song, error) {
	return s.songs(ctx, "search", url.Values{
		"keyword": {query},
		"limit":   {strconv.Itoa(s.bulkLimit)},
	})
}

// StreamURL builds the stream.cgi URL. It needs a song ID and a session.
func (s *AudioStationService) StreamURL(song models.Song) string {
	sid := s.token()
	id := song.ID
	if native, ok := song.Native.(string); ok && native != "" {
		id = native
	}
	if sid == "" || id == "" {
		return ""
	}
	return s.client.url(synoAudioPath+"stream.cgi", url.Values{
		"api":     {"SYNO.AudioStation.Stream"},
		"version": {"2"},
		"method":  {"stream"},
		"id":      {id},
		"format":  {"mp3"},
		"bitrate": {"320000"},
		"_sid":    {sid},
	})
}

func (s *AudioStationService) coverURL(album, artist string) string {
	sid := s.token()
	if sid == "" || strings.TrimSpace(album) == "" {
		return ""
	}
	return s.client.url(synoAudioPath+"cover.cgi", url.Values{
		"api":               {"SYNO.AudioStation.Cover"},
		"version":           {"3"},
		"method":            {"getcover"},
		"album_name":        {album},
		"album_artist_name": {artist},
		"_sid":              {sid},
	})
}

// SongArtworkURL resolves cover art by the song's album and artist names.
func (s *AudioStationService) SongArtworkURL(song models.Song) string {
	return s.coverURL(song.Album, song.Artist)
}

// AlbumArtworkURL resolves cover art by album and album artist names.
func (s *AudioStationService) AlbumArtworkURL(album models.Album) string {
	return s.coverURL(album.Name, album.Artist)
}
