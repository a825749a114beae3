// Catalog API implementation of [Service]
//
// Response types follow the Spotify Web API reference: https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/resolver"
	"github.com/desertthunder/polyplay/internal/shared"
	"golang.org/x/oauth2"
)

const (
	catalogAuthURL  = "https://accounts.spotify.com/authorize"
	catalogTokenURL = "https://accounts.spotify.com/api/token"
	catalogBaseURL  = "https://api.spotify.com/v1"
	catalogPageSize = 50
)

// CatalogImage represents an image resource.
type CatalogImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// CatalogUser is the authenticated account.
type CatalogUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"`
}

// CatalogArtist represents an artist object.
type CatalogArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []CatalogImage `json:"images"`
}

// CatalogAlbum represents an album object.
type CatalogAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []CatalogArtist `json:"artists"`
	TotalTracks int             `json:"total_tracks"`
	Images      []CatalogImage  `json:"images"`
}

// CatalogTrack represents a track. PreviewURL is the only directly streamable reference.
type CatalogTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []CatalogArtist `json:"artists"`
	Album       CatalogAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	TrackNumber int             `json:"track_number"`
	PreviewURL  string          `json:"preview_url"`
}

type catalogOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CatalogPlaylist represents a simplified playlist object.
type CatalogPlaylist struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Owner  catalogOwner `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

type catalogPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type catalogSavedAlbum struct {
	Album CatalogAlbum `json:"album"`
}

type catalogPlaylistItem struct {
	Track *CatalogTrack `json:"track"`
}

// refreshableTokenSource reports every new access token to callback.
type refreshableTokenSource struct {
	mu       sync.Mutex
	source   oauth2.TokenSource
	callback func(*oauth2.Token)
	last     string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	tok, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := tok.AccessToken != r.last
	r.last = tok.AccessToken
	cb := r.callback
	r.mu.Unlock()

	if changed && cb != nil {
		cb(tok)
	}
	return tok, nil
}

// CatalogService implements [Service] for the first-party catalog over OAuth2.
type CatalogService struct {
	session
	config         *oauth2.Config
	client         *restClient
	bulkLimit      int
	logger         *log.Logger
	tokenMu        sync.Mutex
	source         oauth2.TokenSource
	refresh        string
	onTokenRefresh func(*oauth2.Token)
}

// NewCatalogService creates the adapter with OAuth2 client credentials.
//
// base_url, auth_url and token_url default to the public endpoints.
func NewCatalogService(credentials map[string]string, opts ClientOpts) (*CatalogService, error) {
	clientID, err := credential(credentials, "client_id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := credential(credentials, "client_secret")
	if err != nil {
		return nil, err
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:7890/callback"
	}
	baseURL := credentials["base_url"]
	if baseURL == "" {
		baseURL = catalogBaseURL
	}
	authURL, tokenURL := credentials["auth_url"], credentials["token_url"]
	if authURL == "" {
		authURL = catalogAuthURL
	}
	if tokenURL == "" {
		tokenURL = catalogTokenURL
	}

	opts = opts.withDefaults()
	client, err := newRESTClient(models.BackendCatalog, baseURL, opts)
	if err != nil {
		return nil, err
	}

	limit := opts.BulkLimit
	if limit <= 0 {
		limit = resolver.DefaultBulkLimit
	}

	return &CatalogService{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				"user-read-private",
				"user-library-read",
				"user-follow-read",
				"playlist-read-private",
				"playlist-read-collaborative",
			},
			Endpoint: oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		},
		client:    client,
		bulkLimit: limit,
		logger:    client.logger,
	}, nil
}

func (s *CatalogService) Name() string {
	return "Catalog"
}

func (s *CatalogService) Backend() models.Backend {
	return models.BackendCatalog
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *CatalogService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// SetTokenRefreshCallback registers fn to receive every new token, so a rotated refresh token can
// be stored. Nil removes it.
func (s *CatalogService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.onTokenRefresh = fn
}

// RefreshToken returns the refresh token of the current session, if the server issued one.
func (s *CatalogService) RefreshToken() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.refresh
}

// Authenticate accepts access_token, refresh_token or auth_code, in that order of preference.
func (s *CatalogService) Authenticate(ctx context.Context, credentials map[string]string) (*SessionHandle, error) {
	s.clear()
	bg := context.WithoutCancel(ctx)

	var base oauth2.TokenSource
	switch {
	case credentials["access_token"] != "":
		base = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credentials["access_token"]})
	case credentials["refresh_token"] != "":
		base = s.config.TokenSource(bg, &oauth2.Token{RefreshToken: credentials["refresh_token"]})
	case credentials["auth_code"] != "":
		tok, err := s.config.Exchange(ctx, credentials["auth_code"])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
		}
		base = s.config.TokenSource(bg, tok)
	default:
		return nil, fmt.Errorf("%w: access_token, refresh_token or auth_code", shared.ErrMissingCredentials)
	}

	s.tokenMu.Lock()
	source := &refreshableTokenSource{source: base, callback: s.onTokenRefresh}
	s.tokenMu.Unlock()

	tok, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	s.tokenMu.Lock()
	s.source = source
	s.refresh = tok.RefreshToken
	if s.refresh == "" {
		s.refresh = credentials["refresh_token"]
	}
	s.tokenMu.Unlock()

	handle := s.set(models.BackendCatalog, tok.AccessToken, nil)

	user, err := s.UserProfile(ctx)
	if err != nil {
		s.clear()
		if errors.Is(err, shared.ErrNotAuthenticated) {
			return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
		}
		return nil, err
	}

	s.logger.Info("authenticated", "user", user.DisplayName)
	return handle, nil
}

// doRequest performs an authenticated GET against the catalog API.
func (s *CatalogService) doRequest(ctx context.Context, endpoint string, params url.Values, result any) error {
	if _, err := s.require(models.BackendCatalog); err != nil {
		return err
	}

	s.tokenMu.Lock()
	source := s.source
	s.tokenMu.Unlock()

	tok, err := source.Token()
	if err != nil {
		s.clear()
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}

	header := http.Header{"Authorization": {"Bearer " + tok.AccessToken}}
	err = s.client.getJSON(ctx, endpoint, params, header, result)
	if errors.Is(err, shared.ErrNotAuthenticated) {
		s.clear()
	}
	return err
}

func (s *CatalogService) tolerate(what string, err error) error {
	if errors.Is(err, shared.ErrDecoding) {
		s.logger.Warn("unexpected response shape", "call", what, "error", err)
		return nil
	}
	return err
}

// UserProfile retrieves the current authenticated user's profile.
func (s *CatalogService) UserProfile(ctx context.Context) (*CatalogUser, error) {
	var user CatalogUser
	if err := s.doRequest(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// paginate walks an offset-paged endpoint until next is nil or the bulk limit is reached.
func paginate[T any](ctx context.Context, s *CatalogService, endpoint string, params url.Values) ([]T, error) {
	if params == nil {
		params = url.Values{}
	}
	var all []T
	for offset := 0; offset < s.bulkLimit; offset += catalogPageSize {
		params.Set("limit", strconv.Itoa(catalogPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page catalogPage[T]
		if err := s.doRequest(ctx, endpoint, params, &page); err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		if page.Next == nil || len(page.Items) == 0 {
			break
		}
	}
	return all, nil
}

func firstImage(images []CatalogImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func firstArtist(artists []CatalogArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func (s *CatalogService) song(t CatalogTrack) models.Song {
	song := models.NewSong(models.BackendCatalog, t.ID, t.Name, firstArtist(t.Artists), t.Album.Name, t.DurationMS/1000, t.TrackNumber).
		WithNative(t)
	return song.WithStream(s.StreamURL(song)).WithArtwork(s.SongArtworkURL(song))
}

func (s *CatalogService) songs(tracks []CatalogTrack) []models.Song {
	out := make([]models.Song, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		out = append(out, s.song(t))
	}
	return out
}

func (s *CatalogService) album(a CatalogAlbum) models.Album {
	return models.Album{
		ID:         a.ID,
		Name:       a.Name,
		Artist:     firstArtist(a.Artists),
		SongCount:  a.TotalTracks,
		ArtworkURL: firstImage(a.Images),
		Songs:      []models.Song{},
		Backend:    models.BackendCatalog,
		Native:     a,
	}
}

func (s *CatalogService) artist(a CatalogArtist) models.Artist {
	return models.Artist{
		ID:      a.ID,
		Name:    a.Name,
		Songs:   []models.Song{},
		Backend: models.BackendCatalog,
		Native:  a,
	}
}

// ListAlbums returns the user's saved albums.
func (s *CatalogService) ListAlbums(ctx context.Context) ([]models.Album, error) {
	saved, err := paginate[catalogSavedAlbum](ctx, s, "/me/albums", nil)
	if err := s.tolerate("me/albums", err); err != nil {
		return nil, err
	}
	out := make([]models.Album, 0, len(saved))
	for _, item := range saved {
		out = append(out, s.album(item.Album))
	}
	return out, nil
}

// ListArtists returns followed artists, following the after cursor.
func (s *CatalogService) ListArtists(ctx context.Context) ([]models.Artist, error) {
	out := []models.Artist{}
	params := url.Values{"type": {"artist"}, "limit": {strconv.Itoa(catalogPageSize)}}
	for len(out) < s.bulkLimit {
		var body struct {
			Artists struct {
				Items   []CatalogArtist `json:"items"`
				Next    *string         `json:"next"`
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
			} `json:"artists"`
		}
		if err := s.doRequest(ctx, "/me/following", params, &body); err != nil {
			return out, s.tolerate("me/following", err)
		}
		for _, a := range body.Artists.Items {
			out = append(out, s.artist(a))
		}
		if body.Artists.Next == nil || body.Artists.Cursors.After == "" {
			break
		}
		params.Set("after", body.Artists.Cursors.After)
	}
	return out, nil
}

// ListPlaylists returns the user's playlists.
func (s *CatalogService) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	items, err := paginate[CatalogPlaylist](ctx, s, "/me/playlists", nil)
	if err := s.tolerate("me/playlists", err); err != nil {
		return nil, err
	}
	out := make([]models.Playlist, 0, len(items))
	for _, p := range items {
		out = append(out, models.Playlist{
			ID:        p.ID,
			Name:      p.Name,
			Curator:   p.Owner.DisplayName,
			SongCount: p.Tracks.Total,
			Songs:     []models.Song{},
			Backend:   models.BackendCatalog,
			Native:    p,
		})
	}
	return out, nil
}

// SongsForAlbum lists the album's tracks. Album tracks omit the album object, so it is filled in
// from the argument.
func (s *CatalogService) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	if _, err := s.require(models.BackendCatalog); err != nil {
		return nil, err
	}
	if album.ID == "" {
		return []models.Song{}, nil
	}

	tracks, err := paginate[CatalogTrack](ctx, s, "/albums/"+url.PathEscape(album.ID)+"/tracks", nil)
	if err := s.tolerate("album tracks", err); err != nil {
		return nil, err
	}

	parent, _ := album.Native.(CatalogAlbum)
	if parent.ID == "" {
		parent = CatalogAlbum{ID: album.ID, Name: album.Name}
		if album.ArtworkURL != "" {
			parent.Images = []CatalogImage{{URL: album.ArtworkURL}}
		}
	}
	for i := range tracks {
		tracks[i].Album = parent
	}
	return s.songs(tracks), nil
}

// SongsForArtist returns the artist's top tracks.
func (s *CatalogService) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	if _, err := s.require(models.BackendCatalog); err != nil {
		return nil, err
	}
	if artist.ID == "" {
		return []models.Song{}, nil
	}

	var body struct {
		Tracks []CatalogTrack `json:"tracks"`
	}
	err := s.doRequest(ctx, "/artists/"+url.PathEscape(artist.ID)+"/top-tracks", url.Values{"market": {"from_token"}}, &body)
	if err := s.tolerate("top tracks", err); err != nil {
		return nil, err
	}
	return s.songs(body.Tracks), nil
}

// SongsForPlaylist lists the playlist's tracks, skipping removed or local entries.
func (s *CatalogService) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	if _, err := s.require(models.BackendCatalog); err != nil {
		return nil, err
	}
	if playlist.ID == "" {
		return []models.Song{}, nil
	}

	items, err := paginate[catalogPlaylistItem](ctx, s, "/playlists/"+url.PathEscape(playlist.ID)+"/tracks", nil)
	if err := s.tolerate("playlist tracks", err); err != nil {
		return nil, err
	}
	tracks := make([]CatalogTrack, 0, len(items))
	for _, item := range items {
		if item.Track != nil {
			tracks = append(tracks, *item.Track)
		}
	}
	return s.songs(tracks), nil
}

func (s *CatalogService) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	var body struct {
		Tracks  catalogPage[CatalogTrack]  `json:"tracks"`
		Albums  catalogPage[CatalogAlbum]  `json:"albums"`
		Artists catalogPage[CatalogArtist] `json:"artists"`
	}
	err := s.doRequest(ctx, "/search", url.Values{
		"q":     {query},
		"type":  {"track,album,artist"},
		"limit": {"20"},
	}, &body)
	if err := s.tolerate("search", err); err != nil {
		return nil, err
	}

	results := &models.SearchResults{
		Songs:   s.songs(body.Tracks.Items),
		Albums:  make([]models.Album, 0, len(body.Albums.Items)),
		Artists: make([]models.Artist, 0, len(body.Artists.Items)),
	}
	for _, a := range body.Albums.Items {
		results.Albums = append(results.Albums, s.album(a))
	}
	for _, a := range body.Artists.Items {
		results.Artists = append(results.Artists, s.artist(a))
	}
	return results, nil
}

// StreamURL returns the track's preview URL.
func (s *CatalogService) StreamURL(song models.Song) string {
	if !s.Authenticated() {
		return ""
	}
	if t, ok := song.Native.(CatalogTrack); ok {
		return t.PreviewURL
	}
	return song.StreamURL
}

// SongArtworkURL returns the first image of the track's album.
func (s *CatalogService) SongArtworkURL(song models.Song) string {
	if t, ok := song.Native.(CatalogTrack); ok {
		return firstImage(t.Album.Images)
	}
	return song.ArtworkURL
}

func (s *CatalogService) AlbumArtworkURL(album models.Album) string {
	if a, ok := album.Native.(CatalogAlbum); ok {
		return firstImage(a.Images)
	}
	return album.ArtworkURL
}
