package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/audiosession"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/nowplaying"
	"github.com/desertthunder/polyplay/internal/playback"
	"github.com/desertthunder/polyplay/internal/queue"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// HistoryRecorder stores songs as they start playing.
type HistoryRecorder interface {
	RecordPlay(ctx context.Context, song models.Song, at time.Time) error
}

// Opts configures a [Controller].
type Opts struct {
	Services    map[models.Backend]services.Service
	Credentials map[models.Backend]map[string]string
	Engine      playback.MediaEngine
	Backend     models.Backend // initially active, defaults to the first configured
	Interval    time.Duration  // now-playing push cadence
	History     HistoryRecorder
	Rand        *rand.Rand
	Logger      *log.Logger
}

// Controller wires adapters, the queue, one playback machine per backend and the publisher. Every
// queue, machine and arbiter mutation happens under mu.
type Controller struct {
	mu         sync.Mutex
	services   map[models.Backend]services.Service
	creds      map[models.Backend]map[string]string
	active     models.Backend
	queue      *queue.Manager
	arbiter    *audiosession.Arbiter
	machines   map[models.Backend]*playback.Machine
	engine     playback.MediaEngine
	publisher  *nowplaying.Publisher
	generation uint64
	scopes     map[models.Backend]scope
	history    HistoryRecorder
	plays      chan models.Song
	logger     *log.Logger
	closed     bool

	authMu sync.Mutex
}

type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newScope() scope {
	ctx, cancel := context.WithCancel(context.Background())
	return scope{ctx: ctx, cancel: cancel}
}

// New creates a [Controller]. At least one service and an engine are required.
func New(opts Opts) (*Controller, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: no media engine", shared.ErrInvalidConfig)
	}
	if len(opts.Services) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", shared.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	c := &Controller{
		services: make(map[models.Backend]services.Service, len(opts.Services)),
		creds:    make(map[models.Backend]map[string]string, len(opts.Services)),
		queue:    queue.New(opts.Rand),
		arbiter:  audiosession.NewArbiter(opts.Logger),
		machines: make(map[models.Backend]*playback.Machine, len(opts.Services)),
		engine:   opts.Engine,
		scopes:   make(map[models.Backend]scope, len(opts.Services)),
		history:  opts.History,
		plays:    make(chan models.Song, 16),
		logger:   shared.WithLogger(opts.Logger, "component", "player"),
	}

	for _, b := range c.sortedBackends(opts.Services) {
		c.services[b] = opts.Services[b]
		creds := make(map[string]string, len(opts.Credentials[b]))
		for k, v := range opts.Credentials[b] {
			creds[k] = v
		}
		c.creds[b] = creds
		c.scopes[b] = newScope()

		m := playback.NewMachine(playback.MachineOpts{
			Owner:        string(b),
			Engine:       opts.Engine,
			Queue:        c.queue,
			Gate:         c.arbiter,
			Logger:       opts.Logger,
			OnTransition: c.onTransition,
			StreamURL:    opts.Services[b].StreamURL,
		})
		c.machines[b] = m
		c.arbiter.Register(string(b), m.Interrupt)
	}

	c.active = opts.Backend
	if c.active == "" {
		c.active = c.sortedBackends(opts.Services)[0]
	}
	if _, ok := c.services[c.active]; !ok {
		return nil, fmt.Errorf("%w: backend %q is not configured", shared.ErrUnknownBackend, c.active)
	}

	c.publisher = nowplaying.NewPublisher(nowplaying.PublisherOpts{
		Source:    c,
		Commander: c,
		Interval:  opts.Interval,
		Logger:    opts.Logger,
	})
	return c, nil
}

func (c *Controller) sortedBackends(svcs map[models.Backend]services.Service) []models.Backend {
	out := make([]models.Backend, 0, len(svcs))
	for b := range svcs {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// onTransition runs after a machine releases its lock, possibly while c.mu is held. It must not
// block or take c.mu.
func (c *Controller) onTransition(t playback.Transition) {
	if t.To == playback.Playing && t.From == playback.Ready {
		select {
		case c.plays <- t.Song:
		default:
			c.logger.Warn("dropping play history entry", "song", t.Song.Title)
		}
	}
	if c.publisher != nil {
		c.publisher.Notify()
	}
}

// Publisher returns the now-playing publisher.
func (c *Controller) Publisher() *nowplaying.Publisher {
	return c.publisher
}

// Active returns the active backend.
func (c *Controller) Active() models.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Backends lists the configured backends in name order.
func (c *Controller) Backends() []models.Backend {
	return c.sortedBackends(c.services)
}

// Service returns the adapter for b.
func (c *Controller) Service(b models.Backend) (services.Service, bool) {
	svc, ok := c.services[b]
	return svc, ok
}

// Queue returns a copy of the shared queue.
func (c *Controller) Queue() queue.State {
	return c.queue.Snapshot()
}

// SetCredential updates one credential used for later authentications of b.
func (c *Controller) SetCredential(b models.Backend, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if creds, ok := c.creds[b]; ok {
		creds[key] = value
	}
}

// SwitchBackend makes b active. In-flight calls against the previous backend are cancelled and
// its machine is stopped, which releases the audio session.
func (c *Controller) SwitchBackend(ctx context.Context, b models.Backend) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.services[b]; !ok {
		return fmt.Errorf("%w: %q", shared.ErrUnknownBackend, b)
	}
	if b == c.active {
		return nil
	}

	prev := c.active
	c.scopes[prev].cancel()
	c.scopes[prev] = newScope()
	c.generation++
	c.active = b

	c.logger.Info("switched backend", "from", prev, "to", b)
	err := c.machines[prev].Stop(ctx)
	c.publisher.Notify()
	return err
}

// withScope derives a context that is also cancelled when the backend is switched away from.
func (c *Controller) withScope(parent context.Context, b models.Backend) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	base := c.scopes[b].ctx
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) authenticate(ctx context.Context, b models.Backend, svc services.Service, force bool) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if !force && svc.Authenticated() {
		return nil
	}

	c.mu.Lock()
	creds := make(map[string]string, len(c.creds[b]))
	for k, v := range c.creds[b] {
		creds[k] = v
	}
	c.mu.Unlock()

	if _, err := svc.Authenticate(ctx, creds); err != nil {
		return err
	}
	c.logger.Debug("authenticated", "backend", b)
	return nil
}

// call runs fn against the active adapter, authenticating lazily and re-authenticating once when
// the server rejects the session.
func call[T any](c *Controller, ctx context.Context, fn func(context.Context, services.Service) (T, error)) (T, error) {
	var zero T

	b := c.Active()
	svc := c.services[b]

	ctx, done := c.withScope(ctx, b)
	defer done()

	if err := c.authenticate(ctx, b, svc, false); err != nil {
		return zero, cancelled(ctx, err)
	}

	v, err := fn(ctx, svc)
	if err != nil && errors.Is(err, shared.ErrNotAuthenticated) && !errors.Is(err, shared.ErrAuthFailed) {
		c.logger.Info("session rejected, signing in again", "backend", b)
		if aerr := c.authenticate(ctx, b, svc, true); aerr != nil {
			return zero, cancelled(ctx, aerr)
		}
		v, err = fn(ctx, svc)
	}
	if err != nil {
		return zero, cancelled(ctx, err)
	}
	return v, nil
}

func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, shared.ErrCancelled) {
		return fmt.Errorf("%w: %v", shared.ErrCancelled, err)
	}
	return err
}

func (c *Controller) BrowseAlbums(ctx context.Context) ([]models.Album, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Album, error) {
		return svc.ListAlbums(ctx)
	})
}

func (c *Controller) BrowseArtists(ctx context.Context) ([]models.Artist, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Artist, error) {
		return svc.ListArtists(ctx)
	})
}

func (c *Controller) BrowsePlaylists(ctx context.Context) ([]models.Playlist, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Playlist, error) {
		return svc.ListPlaylists(ctx)
	})
}

func (c *Controller) SongsForAlbum(ctx context.Context, album models.Album) ([]models.Song, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForAlbum(ctx, album)
	})
}

func (c *Controller) SongsForArtist(ctx context.Context, artist models.Artist) ([]models.Song, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForArtist(ctx, artist)
	})
}

func (c *Controller) SongsForPlaylist(ctx context.Context, playlist models.Playlist) ([]models.Song, error) {
	return call(c, ctx, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForPlaylist(ctx, playlist)
	})
}

func (c *Controller) Search(ctx context.Context, query string) (*models.SearchResults, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	return call(c, ctx, func(ctx context.Context, svc services.Service) (*models.SearchResults, error) {
		return svc.Search(ctx, query)
	})
}

// PlayAlbum resolves the album, replaces the queue with its songs and starts the first one.
// It returns the number of songs queued.
func (c *Controller) PlayAlbum(ctx context.Context, album models.Album) (int, error) {
	return c.play(ctx, 0, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForAlbum(ctx, album)
	})
}

func (c *Controller) PlayArtist(ctx context.Context, artist models.Artist) (int, error) {
	return c.play(ctx, 0, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForArtist(ctx, artist)
	})
}

func (c *Controller) PlayPlaylist(ctx context.Context, playlist models.Playlist) (int, error) {
	return c.play(ctx, 0, func(ctx context.Context, svc services.Service) ([]models.Song, error) {
		return svc.SongsForPlaylist(ctx, playlist)
	})
}

// PlaySongs queues songs as given and starts at index start.
func (c *Controller) PlaySongs(ctx context.Context, songs []models.Song, start int) (int, error) {
	return c.play(ctx, start, nil, songs...)
}

// play resolves without holding the lock, then commits only if nothing newer happened meanwhile:
// a later play request or a backend switch bumps the generation and wins.
func (c *Controller) play(ctx context.Context, start int, resolve func(context.Context, services.Service) ([]models.Song, error), given ...models.Song) (int, error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	b := c.active
	c.mu.Unlock()

	songs := given
	if resolve != nil {
		var err error
		if songs, err = call(c, ctx, resolve); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.active != b || ctx.Err() != nil {
		c.logger.Debug("discarding superseded resolution", "backend", b, "songs", len(songs))
		return 0, shared.ErrCancelled
	}
	if len(songs) == 0 {
		return 0, nil
	}

	start = max(0, min(start, len(songs)-1))
	if !songs[start].Playable() {
		next := slices.IndexFunc(songs[start:], models.Song.Playable)
		if next < 0 {
			return 0, fmt.Errorf("%w: none of %d songs has a stream", shared.ErrNotPlayable, len(songs))
		}
		start += next
	}

	if err := c.queue.SetQueue(songs, start); err != nil {
		return 0, err
	}
	c.logger.Info("queued", "backend", b, "songs", len(songs), "start", start)

	err := c.machines[b].LoadCurrent(ctx)
	c.publisher.Notify()
	return len(songs), err
}

// Dispatch applies a transport command to the active machine and queue.
func (c *Controller) Dispatch(ctx context.Context, cmd nowplaying.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: player is closed", shared.ErrInvalidState)
	}
	defer c.publisher.Notify()

	m := c.machines[c.active]
	switch cmd.Kind {
	case nowplaying.CommandPlay:
		return m.Play(ctx)
	case nowplaying.CommandPause:
		return m.Pause(ctx)
	case nowplaying.CommandToggle:
		return m.Toggle(ctx)
	case nowplaying.CommandStop:
		return m.Stop(ctx)
	case nowplaying.CommandSeek:
		_, err := m.Seek(ctx, cmd.Position)
		return err
	case nowplaying.CommandNext:
		if c.queue.Len() == 0 {
			return shared.ErrEmptyQueue
		}
		step := c.queue.SkipNext()
		if step.Stopped {
			return m.Stop(ctx)
		}
		return m.LoadCurrent(ctx)
	case nowplaying.CommandPrevious:
		if c.queue.Len() == 0 {
			return shared.ErrEmptyQueue
		}
		step := c.queue.SkipPrevious()
		if !step.Moved && m.State().Seekable() {
			_, err := m.Seek(ctx, 0)
			return err
		}
		return m.LoadCurrent(ctx)
	case nowplaying.CommandShuffle:
		c.queue.ToggleShuffle(cmd.Shuffle)
	case nowplaying.CommandRepeat:
		c.queue.SetRepeatMode(cmd.RepeatMode())
	}
	return nil
}

// CurrentSnapshot reports the active machine and the queue.
func (c *Controller) CurrentSnapshot() nowplaying.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.machines[c.active].Status()
	qs := c.queue.Snapshot()

	snap := nowplaying.Snapshot{
		QueuePosition: qs.Index,
		QueueLength:   len(qs.Active),
		Elapsed:       st.Position,
		IsPlaying:     st.State == playback.Playing,
		State:         st.State.String(),
		Shuffle:       qs.Shuffle,
		Repeat:        qs.Repeat.String(),
		Backend:       c.active,
		At:            time.Now(),
	}
	if st.HasSong {
		song := st.Song
		snap.Song = &song
		snap.Total = float64(song.Duration)
	}
	if st.Err != nil {
		snap.Error = shared.UserMessage(st.Err)
	}
	return snap
}

// handleEvent feeds one engine report to the active machine.
func (c *Controller) handleEvent(ctx context.Context, ev playback.EngineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.machines[c.active].HandleEvent(ctx, ev); err != nil {
		c.logger.Warn("engine event failed", "event", ev.Kind, "error", err)
	}
}

// Run pumps engine events, records history and runs the publisher until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Go(func() {
		if err := c.publisher.Run(ctx); err != nil {
			c.logger.Error("publisher stopped", "error", err)
		}
	})
	wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case song := <-c.plays:
				if c.history == nil {
					continue
				}
				if err := c.history.RecordPlay(ctx, song, time.Now()); err != nil {
					c.logger.Warn("failed to record play", "song", song.Title, "error", err)
				}
			}
		}
	})

	events := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: media engine closed its event stream", shared.ErrInvalidState)
			}
			c.handleEvent(ctx, ev)
		}
	}
}

// Close stops every machine, cancels in-flight calls and closes the engine when it is an
// [io.Closer]. Errors from each step are combined.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	ctx := context.Background()
	for _, b := range c.sortedBackends(c.services) {
		c.scopes[b].cancel()
		if m := c.machines[b]; m.State().Active() {
			err = multierr.Append(err, m.Stop(ctx))
		}
		c.arbiter.Unregister(string(b))
	}
	if closer, ok := c.engine.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}
