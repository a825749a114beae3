// Package nowplaying publishes what is playing to remote-control collaborators and routes their
// commands back into the player.
//
// A [Publisher] pulls a [Snapshot] from its [Source] and pushes it to one exclusive [Delegate]
// plus any number of subscribers. Pushes happen once a second while something is playing and
// immediately after [Publisher.Notify], which the player calls on every state transition.
package nowplaying

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// DefaultInterval is the progress push cadence.
const DefaultInterval = time.Second

// Snapshot is an immutable view of the player at one instant.
type Snapshot struct {
	Song          *models.Song   `json:"song,omitempty"`
	QueuePosition int            `json:"queue_position"`
	QueueLength   int            `json:"queue_length"`
	Elapsed       float64        `json:"elapsed"`
	Total         float64        `json:"total"`
	IsPlaying     bool           `json:"is_playing"`
	State         string         `json:"state"`
	Shuffle       bool           `json:"shuffle"`
	Repeat        string         `json:"repeat"`
	Backend       models.Backend `json:"backend"`
	Error         string         `json:"error,omitempty"`
	At            time.Time      `json:"at"`
}

// Progress returns elapsed over total in [0, 1].
func (s Snapshot) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return max(0, min(1, s.Elapsed/s.Total))
}

// Source produces snapshots on demand.
type Source interface {
	CurrentSnapshot() Snapshot
}

// Commander applies remote commands.
type Commander interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// Delegate is the external media-control collaborator. Publish must not block.
type Delegate interface {
	Publish(Snapshot)
}

// DelegateFunc adapts a function to [Delegate].
type DelegateFunc func(Snapshot)

func (f DelegateFunc) Publish(s Snapshot) { f(s) }

// PublisherOpts configures a [Publisher].
type PublisherOpts struct {
	Source    Source
	Commander Commander
	Interval  time.Duration
	Logger    *log.Logger
}

// Publisher is the now-playing surface.
type Publisher struct {
	source    Source
	commander Commander
	interval  time.Duration
	logger    *log.Logger
	wake      chan struct{}

	mu       sync.Mutex
	delegate Delegate
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewPublisher creates a [Publisher]. Interval defaults to [DefaultInterval].
func NewPublisher(opts PublisherOpts) *Publisher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Publisher{
		source:    opts.Source,
		commander: opts.Commander,
		interval:  opts.Interval,
		logger:    opts.Logger,
		wake:      make(chan struct{}, 1),
		subs:      make(map[int]chan Snapshot),
	}
}

// SetDelegate registers d as the only delegate, replacing any previous one. Nil clears it.
func (p *Publisher) SetDelegate(d Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = d
}

// Delegate returns the registered delegate, if any.
func (p *Publisher) Delegate() Delegate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delegate
}

// Subscribe returns a channel of snapshots and a func that unsubscribes and closes it.
//
// A subscriber that falls behind misses snapshots rather than blocking the publisher.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Snapshot, 4)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

// Notify asks [Publisher.Run] to push a snapshot now. It never blocks.
func (p *Publisher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Publish pulls a snapshot and pushes it to the delegate and every subscriber.
func (p *Publisher) Publish() Snapshot {
	snap := p.source.CurrentSnapshot()
	p.push(snap)
	return snap
}

func (p *Publisher) push(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.delegate != nil {
		p.delegate.Publish(snap)
	}
	for id, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			p.logger.Debug("dropped snapshot for slow subscriber", "subscriber", id)
		}
	}
}

// Run pushes on every tick while playing and on every [Publisher.Notify] until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
			p.Publish()
		case <-ticker.C:
			if snap := p.source.CurrentSnapshot(); snap.IsPlaying {
				p.push(snap)
			}
		}
	}
}

// HandleRemote validates cmd and forwards it to the commander.
func (p *Publisher) HandleRemote(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	p.logger.Debug("remote command", "command", cmd)
	return p.commander.Dispatch(ctx, cmd)
}

// CurrentSnapshot pulls from the source without pushing.
func (p *Publisher) CurrentSnapshot() Snapshot {
	return p.source.CurrentSnapshot()
}
