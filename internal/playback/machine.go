package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/queue"
	"github.com/desertthunder/polyplay/internal/shared"
)

// Transition is emitted after every state change.
type Transition struct {
	Owner string
	From  State
	To    State
	Song  models.Song
	Err   error
	At    time.Time
}

// Status is a copy of the machine's observable state.
type Status struct {
	State    State
	Song     models.Song
	HasSong  bool
	Err      error
	Position float64
}

// MachineOpts configures a [Machine].
type MachineOpts struct {
	Owner        string // audio session owner tag, usually the backend name
	Engine       MediaEngine
	Queue        *queue.Manager
	Gate         Gate
	Logger       *log.Logger
	OnTransition func(Transition) // called after the lock is released

	// StreamURL rebuilds a song's stream reference right before it is loaded, so a queue that
	// outlives a session plays with the current credentials. An empty result keeps Song.StreamURL.
	StreamURL func(models.Song) string
}

// Machine is one backend's playback service.
type Machine struct {
	mu      sync.Mutex
	owner   string
	engine  MediaEngine
	queue   *queue.Manager
	gate    Gate
	logger  *log.Logger
	notify  func(Transition)
	stream  func(models.Song) string
	state   State
	song    models.Song
	hasSong bool
	err     error
	emitted string
	pending []Transition
}

// NewMachine creates an idle [Machine].
func NewMachine(opts MachineOpts) *Machine {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Queue == nil {
		opts.Queue = queue.New(nil)
	}
	return &Machine{
		owner:  opts.Owner,
		engine: opts.Engine,
		queue:  opts.Queue,
		gate:   opts.Gate,
		logger: shared.WithLogger(opts.Logger, "owner", opts.Owner),
		notify: opts.OnTransition,
		stream: opts.StreamURL,
		state:  Idle,
	}
}

// Owner returns the audio session tag this machine requests with.
func (m *Machine) Owner() string {
	return m.owner
}

// do runs fn under the lock and delivers any transitions it produced after unlocking.
func (m *Machine) do(fn func() error) error {
	m.mu.Lock()
	err := fn()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if m.notify != nil {
		for _, t := range pending {
			m.notify(t)
		}
	}
	return err
}

func (m *Machine) set(to State, err error) {
	from := m.state
	m.state = to
	m.err = err
	if from == to && err == nil && m.song.ID == m.emitted {
		return
	}
	m.emitted = m.song.ID
	m.logger.Debug("playback transition", "from", from, "to", to, "song", m.song.Title, "error", err)
	m.pending = append(m.pending, Transition{
		Owner: m.owner,
		From:  from,
		To:    to,
		Song:  m.song,
		Err:   err,
		At:    time.Now(),
	})
}

func (m *Machine) request() {
	if m.gate != nil {
		m.gate.Request(m.owner)
	}
}

func (m *Machine) release() {
	if m.gate != nil {
		m.gate.Release(m.owner)
	}
}

// load moves to Loading and hands song to the engine. Caller holds the lock.
func (m *Machine) load(ctx context.Context, song models.Song) error {
	m.song = song
	m.hasSong = true
	m.set(Loading, nil)

	if !song.Playable() {
		err := fmt.Errorf("%w: %q", shared.ErrNotPlayable, song.Title)
		m.set(Failed, err)
		return err
	}

	url := song.StreamURL
	if m.stream != nil {
		if fresh := m.stream(song); fresh != "" {
			url = fresh
		}
	}

	m.request()
	if err := m.engine.Load(ctx, url); err != nil {
		m.set(Failed, err)
		return fmt.Errorf("failed to load %q: %w", song.Title, err)
	}
	return nil
}

// Load starts loading song. It is valid from any state.
func (m *Machine) Load(ctx context.Context, song models.Song) error {
	return m.do(func() error { return m.load(ctx, song) })
}

// LoadCurrent loads the queue's current song.
func (m *Machine) LoadCurrent(ctx context.Context) error {
	return m.do(func() error { return m.loadCurrent(ctx) })
}

func (m *Machine) loadCurrent(ctx context.Context) error {
	song, ok := m.queue.Current()
	if !ok {
		return shared.ErrEmptyQueue
	}
	return m.load(ctx, song)
}

// HandleEvent applies an engine report. Events that do not fit the current state are ignored.
func (m *Machine) HandleEvent(ctx context.Context, ev EngineEvent) error {
	return m.do(func() error {
		switch ev.Kind {
		case MediaReady:
			if m.state != Loading {
				return nil
			}
			m.set(Ready, nil)
			return m.autoplay(ctx)

		case MediaError:
			if !m.state.Active() {
				return nil
			}
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("media engine rejected %q", m.song.Title)
			}
			m.set(Failed, err)
			return nil

		case ReachedEnd:
			if m.state != Playing && m.state != Paused {
				return nil
			}
			m.set(Finished, nil)
			step := m.queue.Advance()
			if !step.Continue() {
				m.logger.Debug("queue finished", "index", step.Index)
				return nil
			}
			return m.loadCurrent(ctx)
		}
		return nil
	})
}

func (m *Machine) autoplay(ctx context.Context) error {
	m.request()
	if err := m.engine.Play(ctx); err != nil {
		m.set(Failed, err)
		return fmt.Errorf("failed to start playback: %w", err)
	}
	m.set(Playing, nil)
	return nil
}

// Play resumes when paused, or loads the queue's current song when nothing is loaded.
func (m *Machine) Play(ctx context.Context) error {
	return m.do(func() error {
		switch m.state {
		case Paused:
			return m.resume(ctx)
		case Playing, Loading, Ready:
			return nil
		default:
			return m.loadCurrent(ctx)
		}
	})
}

// Pause is valid while playing. Pausing while paused does nothing.
func (m *Machine) Pause(ctx context.Context) error {
	return m.do(func() error {
		switch m.state {
		case Paused:
			return nil
		case Playing:
			if err := m.engine.Pause(ctx); err != nil {
				return fmt.Errorf("failed to pause: %w", err)
			}
			m.set(Paused, nil)
			return nil
		default:
			return fmt.Errorf("%w: cannot pause while %s", shared.ErrInvalidState, m.state)
		}
	})
}

// Resume is valid while paused.
func (m *Machine) Resume(ctx context.Context) error {
	return m.do(func() error { return m.resume(ctx) })
}

func (m *Machine) resume(ctx context.Context) error {
	if m.state != Paused {
		return fmt.Errorf("%w: cannot resume while %s", shared.ErrInvalidState, m.state)
	}
	m.request()
	if err := m.engine.Play(ctx); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	m.set(Playing, nil)
	return nil
}

// Toggle pauses when playing and plays otherwise.
func (m *Machine) Toggle(ctx context.Context) error {
	m.mu.Lock()
	playing := m.state == Playing
	m.mu.Unlock()

	if playing {
		return m.Pause(ctx)
	}
	return m.Play(ctx)
}

// Seek moves to seconds, clamped to [0, duration], and returns the clamped target.
//
// It is only valid when ready, playing or paused.
func (m *Machine) Seek(ctx context.Context, seconds float64) (float64, error) {
	var target float64
	err := m.do(func() error {
		if !m.state.Seekable() {
			return fmt.Errorf("%w: cannot seek while %s", shared.ErrInvalidState, m.state)
		}
		target = max(0, seconds)
		if d := float64(m.song.Duration); d > 0 {
			target = min(target, d)
		}
		if err := m.engine.Seek(ctx, target); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
		return nil
	})
	return target, err
}

// Stop halts playback from any state and releases the audio session.
func (m *Machine) Stop(ctx context.Context) error {
	return m.do(func() error {
		var err error
		if m.state.Active() {
			if err = m.engine.Stop(ctx); err != nil {
				err = fmt.Errorf("failed to stop: %w", err)
			}
		}
		m.set(Stopped, nil)
		m.release()
		return err
	})
}

// Interrupt reacts to another owner taking the audio session. Playing pauses; a pending load is abandoned.
//
// It does not touch the gate, so it is safe to register as an [audiosession.StopFunc].
func (m *Machine) Interrupt() {
	_ = m.do(func() error {
		switch m.state {
		case Playing:
			if err := m.engine.Pause(context.Background()); err != nil {
				m.logger.Warn("failed to pause on interruption", "error", err)
			}
			m.set(Paused, nil)
		case Loading, Ready:
			m.set(Stopped, nil)
		}
		return nil
	})
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current state, song and engine position.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state, Song: m.song, HasSong: m.hasSong, Err: m.err}
	if m.state == Playing || m.state == Paused {
		st.Position = m.engine.Position()
	}
	return st
}
