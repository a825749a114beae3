// Package mpv implements [playback.MediaEngine] on libmpv.
//
// libmpv reports every file that stops, including ones replaced by a new loadfile or halted by a
// stop command. The engine counts the end-of-file events it caused itself and swallows them, so
// the playback machine only sees loads, failures and natural ends.
package mpv

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/playback"
	"github.com/desertthunder/polyplay/internal/shared"
)

// Opts configures an [Engine].
type Opts struct {
	AudioDevice string
	Logger      *log.Logger
}

// Engine drives one libmpv handle.
type Engine struct {
	mu     sync.Mutex
	conn   conn
	active bool // a file is loading or loaded
	loaded bool // FILE_LOADED arrived for the current file
	skip   int  // END_FILE events caused by our own loadfile or stop

	events chan playback.EngineEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *log.Logger
}

// New creates an audio-only libmpv instance and starts its event loop.
func New(opts Opts) (*Engine, error) {
	c, err := dial(opts)
	if err != nil {
		return nil, err
	}
	return newEngine(c, opts.Logger), nil
}

func newEngine(c conn, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	e := &Engine{
		conn:   c,
		events: make(chan playback.EngineEvent, 16),
		done:   make(chan struct{}),
		logger: shared.WithLogger(logger, "component", "mpv"),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		default:
		}

		kind, err := e.conn.waitEvent(0.25)
		ev, ok := e.translate(kind, err)
		if !ok {
			if kind == eventShutdown {
				return
			}
			continue
		}

		select {
		case e.events <- ev:
		case <-e.done:
			return
		}
	}
}

// translate maps a libmpv event onto an engine event, updating the bookkeeping.
func (e *Engine) translate(kind eventKind, err error) (playback.EngineEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch kind {
	case eventFileLoaded:
		if !e.active {
			return playback.EngineEvent{}, false
		}
		e.loaded = true
		return playback.EngineEvent{Kind: playback.MediaReady}, true

	case eventEndFile:
		if e.skip > 0 {
			e.skip--
			return playback.EngineEvent{}, false
		}
		if !e.active {
			return playback.EngineEvent{}, false
		}
		loaded := e.loaded
		e.active, e.loaded = false, false
		if err != nil || !loaded {
			if err == nil {
				err = fmt.Errorf("mpv could not open the stream")
			}
			e.logger.Warn("playback error", "error", err)
			return playback.EngineEvent{Kind: playback.MediaError, Err: err}, true
		}
		return playback.EngineEvent{Kind: playback.ReachedEnd}, true
	}
	return playback.EngineEvent{}, false
}

// Load replaces whatever is playing with url. Readiness arrives as [playback.MediaReady].
func (e *Engine) Load(ctx context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.command("loadfile", url, "replace"); err != nil {
		return fmt.Errorf("loadfile failed: %w", err)
	}
	if e.active {
		e.skip++
	}
	e.active, e.loaded = true, false
	// mpv starts playing as soon as the file opens; the machine decides when to play.
	if err := e.conn.command("set", "pause", "yes"); err != nil {
		return fmt.Errorf("failed to hold playback: %w", err)
	}
	return nil
}

func (e *Engine) Play(ctx context.Context) error {
	return e.conn.command("set", "pause", "no")
}

func (e *Engine) Pause(ctx context.Context) error {
	return e.conn.command("set", "pause", "yes")
}

func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	return e.conn.command("seek", strconv.FormatFloat(seconds, 'f', 3, 64), "absolute")
}

// Stop halts the current file. The resulting end-of-file is not reported.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return nil
	}
	if err := e.conn.command("stop"); err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}
	e.skip++
	e.active, e.loaded = false, false
	return nil
}

// Position returns the playback position in seconds, or 0 when nothing is loaded.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if !loaded {
		return 0
	}

	pos, err := e.conn.position()
	if err != nil {
		return 0
	}
	return pos
}

func (e *Engine) Events() <-chan playback.EngineEvent {
	return e.events
}

// Close stops the event loop and destroys the libmpv handle.
func (e *Engine) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.conn.destroy()
	})
	return nil
}

var _ playback.MediaEngine = (*Engine)(nil)
