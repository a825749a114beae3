// Subsonic API implementation of [Service]
//
// Subsonic-compatible servers (Navidrome, Airsonic, Gonic) expose stable IDs and direct container
// linkage, so no entity resolution is needed.
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sourcegraph/conc/pool"
)

const (
	subsonicRestPath   = "/rest/"
	subsonicPageSize   = 500
	subsonicAlbumFetch = 4
)

var saltLetters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = saltLetters[rand.IntN(len(saltLetters))]
	}
	return string(b)
}

type subsonicError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subsonicHead struct {
	Status string         `json:"status"`
	Error  *subsonicError `json:"error"`
}

type subsonicSong struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Album    string `json:"album"`
	Artist   string `json:"artist"`
	Duration int    `json:"duration"`
	Track    int    `json:"track"`
	CoverArt string `json:"coverArt"`
	AlbumID  string `json:"albumId"`
	ArtistID string `json:"artistId"`
	IsDir    bool   `json:"isDir"`
}

type subsonicAlbum struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Artist    string         `json:"artist"`
	ArtistID  string         `json:"artistId"`
	SongCount int            `json:"songCount"`
	Duration  int            `json:"duration"`
	CoverArt  string         `json:"coverArt"`
	Song      []subsonicSong `json:"song"`
}

type subsonicArtist struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	AlbumCount int             `json:"albumCount"`
	Album      []subsonicAlbum `json:"album"`
}

type subsonicPlaylist struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	SongCount int            `json:"songCount"`
	Duration  int            `json:"duration"`
	Entry     []subsonicSong `json:"entry"`
}

// SubsonicService implements [Service] for Subsonic-compatible servers.
type SubsonicService struct {
	session
	client     *restClient
	clientName string
	apiVersion string
	bulkLimit  int
	logger     *log.Logger
}

// NewSubsonicService creates the adapter. Credentials must include base_url.
func NewSubsonicService(credentials map[string]string, opts ClientOpts) (*SubsonicService, error) {
	opts = opts.withDefaults()
	client, err := newRESTClient(models.BackendSubsonic, credentials["base_url"], opts)
	if err != nil {
		return nil, err
	}

	s := &SubsonicService{
		client:     client,
		clientName: credentials["client_name"],
		apiVersion: credentials["api_version"],
		bulkLimit:  opts.BulkLimit,
		logger:     client.logger,
	}
	if s.clientName == "" {
		s.clientName = "polyplay"
	}
	if s.apiVersion == "" {
		s.apiVersion = "1.16.1"
	}
	if s.bulkLimit <= 0 {
		s.bulkLimit = 5000
	}
	return s, nil
}

func (s *SubsonicService) Name() string {
	return "Subsonic"
}

func (s *SubsonicService) Backend() models.Backend {
	return models.BackendSubsonic
}

// authParams returns the salted token parameters for user.
func (s *SubsonicService) authParams(user, token, salt string) url.Values {
	return url.Values{
		"u": {user},
		"t": {token},
		"s": {salt},
		"v": {s.apiVersion},
		"c": {s.clientName},
		"f": {"json"},
	}
}

// Authenticate derives a salted token from the password and verifies it with ping.
func (s *SubsonicService) Authenticate(ctx context.Context, credentials map[string]string) (*SessionHandle, error) {
	username, err := credential(credentials, "username")
	if err != nil {
		return nil, err
	}
	password, err := credential(credentials, "password")
	if err != nil {
		return nil, err
	}

	s.clear()
	salt := randSeq(8)
	token := fmt.Sprintf("%x", md5.Sum([]byte(password+salt)))

	if _, err := s.decode(ctx, "ping.view", s.authParams(username, token, salt), ""); err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("subsonic ping failed: %w", err)
	}

	s.logger.Info("authenticated", "user", username)
	return s.set(models.BackendSubsonic, token, map[string]string{"user": username, "salt": salt}), nil
}

func subsonicErr(e *subsonicError) error {
	if e == nil {
		return fmt.Errorf("%w: subsonic request failed", shared.ErrServiceUnavailable)
	}
	switch e.Code {
	case 40, 41, 44:
		return fmt.Errorf("%w: subsonic error %d: %s", shared.ErrNotAuthenticated, e.Code, e.Message)
	case 70:
		return fmt.Errorf("%w: %s", shared.ErrEntityNotFound, e.Message)
	default:
		return fmt.Errorf("%w: subsonic error %d: %s", shared.ErrServiceUnavailable, e.Code, e.Message)
	}
}

// decode fetches endpoint and returns the payload under key in the subsonic-response envelope.
func (s *SubsonicService) decode(ctx context.Context, endpoint string, params url.Values, key string) (json.RawMessage, error) {
	var outer struct {
		Response json.RawMessage `json:"subsonic-response"`
	}
	if err := s.client.getJSON(ctx, subsonicRestPath+endpoint, params, nil, &outer); err != nil {
		return nil, err
	}
	if len(outer.Response) == 0 {
		return nil, fmt.Errorf("%w: missing subsonic-response", shared.ErrDecoding)
	}

	var head subsonicHead
	if err := json.Unmarshal(outer.Response, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecoding, err)
	}
	if head.Status != "ok" {
		return nil, subsonicErr(head.Error)
	}
	if key == "" {
		return nil, nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(outer.Response, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecoding, err)
	}
	return body[key], nil
}

// call is decode with session parameters. A server-side authorization failure drops the session.
func (s *SubsonicService) call(ctx context.Context, endpoint string, extra url.Values, key string, v any) error {
	token, err := s.require(models.BackendSubsonic)
	if err != nil {
		return err
	}
	params := s.authParams(s.get("user"), token, s.get("salt"))
	for k, vs := range extra {
		params[k] = vs
	}

	raw, err := s.decode(ctx, endpoint, params, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			s.clear()
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrDecoding, key, err)
	}
	return nil
}

// tolerate turns decoding failures and missing entities into "no data".
func (s *SubsonicService) tolerate(what string, err error) error {
	switch {
	case errors.Is(err, shared.ErrDecoding):
		s.logger.Warn("unexpected response shape", "call", what, "error", err)
		return nil
	case errors.Is(err, shared.ErrEntityNotFound):
		s.logger.Debug("entity not found", "call", what, "error", err)
		return nil
	default:
		return err
	}
}

func (s *SubsonicService) song(raw subsonicSong) models.Song {
	song := models.NewSong(models.BackendSubsonic, raw.ID, raw.Title, raw.Artist, raw.Album, raw.Duration, raw.Track).WithNative(raw)
	return song.WithStream(s.StreamURL(song)).WithArtwork(s.coverURL(raw.CoverArt))
}

func (s *SubsonicService) songs(raw []subsonicSong) []models.Song {
	out := make([]models.Song, 0, len(raw))
	for _, r := range raw {
		if r.IsDir || r.ID == "" {
			continue
		}
		out = append(out, s.song(r))
	}
	return out
}

func (s *SubsonicService) album(raw subsonicAlbum) models.Album {
	album := models.Album{
		ID:         raw.ID,
		Name:       raw.Name,
		Artist:     raw.Artist,
		SongCount:  raw.SongCount,
		Duration:   raw.Duration,
		ArtworkURL: s.coverURL(raw.CoverArt),
		Songs:      []models.Song{},
		Backend:    models.BackendSubsonic,
		Native:     raw,
	}
	if len(raw.Song) > 0 {
		album = album.WithSongs(s.songs(raw.Song))
	}
	return album
}

func (s *SubsonicService) artist(raw subsonicArtist) models.Artist {
	return models.Artist{
		ID:      raw.ID,
		Name:    raw.Name,
		Songs:   []models.Song{},
		Backend: models.BackendSubsonic,
		Native:  raw,
	}
}

// ListAlbums pages through getAlbumList2 alphabetically, up to the bulk limit.
func (s *SubsonicService) ListAlbums(ctx context.Context) ([]models.Album, error) {
	out := []models.Album{}
	for offset := 0; offset < s.bulkLimit; offset += subsonicPageSize {
		var page struct {
			Album []subsonicAlbum `json:"album"`
		}
		err := s.call(ctx, "getAlbumList2.view", url.Values{
			"type":   {"alphabeticalByName"},
			"size":   {strconv.Itoa(subsonicPageSize)},
			"offset": {strconv.Itoa(offset)},
		}, "albumList2", &page)
		if err != nil {
			return out, s.tolerate("getAlbumList2", err)
		}
		for _, a := range page.Album {
			out = append(out, s.album(a))
		}
		if len(page.Album) < subsonicPageSize {
			break
		}
	}
	return out, nil
}

// ListArtists flattens the getArtists index.
func (s *SubsonicService) ListArtists(ctx context.Context) ([]models.Artist, error) {
	var body struct {
		Index []struct {
			Name   string           `json:"name"`
			Artist []subsonicArtist `json:"artist"`
		} `json:"index"`
	}
	if err := s.call(ctx, "getArtists.view", nil, "artists", &body); err != nil {
		return []models.Artist{}, s.tolerate("getArtists", err)
	}

	out := []models.Artist{}
	for _, idx := range body.Index {
		for _, a := range idx.Artist {
			out = append(out, s.artist(a))
		}
	}
	return out, nil
}

func (s *SubsonicService) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var body struct {
		Playlist []subsonicPlaylist `json:"playlist"`
	}
	if err := s.call(ctx, "getPlaylists.view", nil, "playlists", &body); err != nil {
		return []models.Playlist{}, s.tolerate("getPlaylists", err)
	}

	out := make([]models.Playlist, 0, len(body.Playlist))
	for _, p := range body.Playlist {
		out = append(out, models.Playlist{
			ID:        p.ID,
			Name:      p.Name,
			Curator:   p.Owner,
			SongCount: p.SongCount,
			Duration:  p.Duration,
			Songs:     []models.Song{},
			Backend:   models.BackendSubsonic,
			Native:    p,
		})
	}
	return out, nil
}

func (s *SubsonicService) albumSongs(ctx context.Context, id string) ([]models.Song, error) {
	var raw subsonicAlbum
	if err := s.call(ctx, "getAlbum.view", url.Values{"id": {id}}, "album", &raw); err != nil {
		return []models.Song{}, s.tolerate("getAlbum", err)
	}
	return s.songs(raw.Song), nil
}

// SongsForAlbum returns the album's songs in server order.
func (s *SubsonicService) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	if _, err := s.require(models.BackendSubsonic); err != nil {
		return nil, err
	}
	if album.ID == "" {
		return []models.Song{}, nil
	}
	return s.albumSongs(ctx, album.ID)
}

// SongsForArtist lists the artist's albums, then fetches them concurrently and concatenates their
// songs in album order.
func (s *SubsonicService) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	if _, err := s.require(models.BackendSubsonic); err != nil {
		return nil, err
	}
	if artist.ID == "" {
		return []models.Song{}, nil
	}

	var raw subsonicArtist
	if err := s.call(ctx, "getArtist.view", url.Values{"id": {artist.ID}}, "artist", &raw); err != nil {
		return []models.Song{}, s.tolerate("getArtist", err)
	}

	perAlbum := make([][]models.Song, len(raw.Album))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(subsonicAlbumFetch).WithCancelOnError()
	for i, a := range raw.Album {
		p.Go(func(ctx context.Context) error {
			songs, err := s.albumSongs(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("album %q: %w", a.Name, err)
			}
			perAlbum[i] = songs
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := []models.Song{}
	for _, songs := range perAlbum {
		out = append(out, songs...)
	}
	return out, nil
}

func (s *SubsonicService) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	if _, err := s.require(models.BackendSubsonic); err != nil {
		return nil, err
	}
	if playlist.ID == "" {
		return []models.Song{}, nil
	}

	var raw subsonicPlaylist
	if err := s.call(ctx, "getPlaylist.view", url.Values{"id": {playlist.ID}}, "playlist", &raw); err != nil {
		return []models.Song{}, s.tolerate("getPlaylist", err)
	}
	return s.songs(raw.Entry), nil
}

// Search uses search3, which returns all three entity kinds in one call.
func (s *SubsonicService) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	var body struct {
		Artist []subsonicArtist `json:"artist"`
		Album  []subsonicAlbum  `json:"album"`
		Song   []subsonicSong   `json:"song"`
	}
	err := s.call(ctx, "search3.view", url.Values{
		"query":       {query},
		"songCount":   {"50"},
		"albumCount":  {"20"},
		"artistCount": {"20"},
	}, "searchResult3", &body)
	if err := s.tolerate("search3", err); err != nil {
		return nil, err
	}

	results := &models.SearchResults{
		Songs:   s.songs(body.Song),
		Albums:  make([]models.Album, 0, len(body.Album)),
		Artists: make([]models.Artist, 0, len(body.Artist)),
	}
	for _, a := range body.Album {
		results.Albums = append(results.Albums, s.album(a))
	}
	for _, a := range body.Artist {
		results.Artists = append(results.Artists, s.artist(a))
	}
	return results, nil
}

// StreamURL builds stream.view for the song ID with the session's salted token.
func (s *SubsonicService) StreamURL(song models.Song) string {
	token := s.token()
	if token == "" || song.ID == "" {
		return ""
	}
	params := s.authParams(s.get("user"), token, s.get("salt"))
	params.Set("id", song.ID)
	return s.client.url(subsonicRestPath+"stream.view", params)
}

func (s *SubsonicService) coverURL(id string) string {
	token := s.token()
	if token == "" || id == "" {
		return ""
	}
	params := s.authParams(s.get("user"), token, s.get("salt"))
	params.Set("id", id)
	return s.client.url(subsonicRestPath+"getCoverArt.view", params)
}

// SongArtworkURL uses the song's coverArt ID.
func (s *SubsonicService) SongArtworkURL(song models.Song) string {
	if raw, ok := song.Native.(subsonicSong); ok {
		return s.coverURL(raw.CoverArt)
	}
	return ""
}

// AlbumArtworkURL uses the album's coverArt ID, falling back to the album ID.
func (s *SubsonicService) AlbumArtworkURL(album models.Album) string {
	if raw, ok := album.Native.(subsonicAlbum); ok && raw.CoverArt != "" {
		return s.coverURL(raw.CoverArt)
	}
	return s.coverURL(album.ID)
}
