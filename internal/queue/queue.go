// Package queue holds the single authoritative play queue shared by every backend.
//
// A [Manager] keeps two sequences: the active one playback walks through, and the original
// order captured before shuffling. Turning shuffle on moves the playing song to index 0 and
// permutes the rest. Turning it off restores the original order and finds the playing song in it.
//
// All methods are safe for concurrent use; every mutation happens under one mutex so no caller
// can observe a partially updated queue.
package queue

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
)

// RepeatMode controls what happens at the end of a song or of the queue.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "off"
	}
}

// Next cycles off → all → one → off.
func (r RepeatMode) Next() RepeatMode {
	return (r + 1) % 3
}

// ParseRepeatMode accepts "off", "all" or "one".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatOff, fmt.Errorf("%w: repeat mode %q", shared.ErrInvalidArgument, s)
	}
}

// Step describes the outcome of [Manager.Advance], [Manager.SkipNext] or [Manager.SkipPrevious].
type Step struct {
	Index   int  // current index after the call
	Moved   bool // the index changed
	Replay  bool // the same song should play again (repeat one)
	Stopped bool // the end-of-queue policy ended playback
}

// Continue reports whether playback should load the current song.
func (s Step) Continue() bool {
	return s.Moved || s.Replay
}

// State is a copy of the queue at one instant.
type State struct {
	Active   []models.Song `json:"active"`
	Original []models.Song `json:"original"`
	Index    int           `json:"index"`
	Shuffle  bool          `json:"shuffle"`
	Repeat   RepeatMode    `json:"repeat"`
}

// Manager is the queue. The zero value is not usable; call [New].
type Manager struct {
	mu         sync.Mutex
	active     []models.Song
	original   []models.Song
	index      int
	savedIndex int
	shuffle    bool
	repeat     RepeatMode
	rng        *rand.Rand
}

// New creates an empty [Manager]. A nil rng seeds one from the runtime.
func New(rng *rand.Rand) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Manager{rng: rng}
}

// SetQueue replaces the queue with songs and positions it at start, clamped into range.
//
// If shuffle is on the new queue is shuffled immediately around the start song.
// Empty input and an unplayable start song are rejected and leave the queue untouched.
func (m *Manager) SetQueue(songs []models.Song, start int) error {
	if len(songs) == 0 {
		return shared.ErrEmptyQueue
	}
	start = max(0, min(start, len(songs)-1))
	if !songs[start].Playable() {
		return fmt.Errorf("%w: %q", shared.ErrNotPlayable, songs[start].Title)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = slices.Clone(songs)
	m.original = slices.Clone(songs)
	m.index = start
	m.savedIndex = start
	if m.shuffle {
		m.shuffleLocked()
	}
	return nil
}

// Clear empties the queue. Shuffle and repeat settings are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active, m.original = nil, nil
	m.index, m.savedIndex = 0, 0
}

// ToggleShuffle turns shuffle on or off. Calling it with the current setting does nothing.
//
// The song at the current index is the same before and after the call.
func (m *Manager) ToggleShuffle(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if on == m.shuffle {
		return
	}
	m.shuffle = on

	if len(m.active) == 0 {
		return
	}

	if on {
		m.original = slices.Clone(m.active)
		m.savedIndex = m.index
		m.shuffleLocked()
		return
	}

	playing := m.active[m.index]
	m.active = slices.Clone(m.original)
	m.index = m.savedIndex
	if i := slices.IndexFunc(m.active, func(s models.Song) bool { return s.ID == playing.ID }); i >= 0 {
		m.index = i
	}
	m.index = max(0, min(m.index, len(m.active)-1))
}

// shuffleLocked moves the current song to index 0 and permutes the rest of the original order uniformly.
func (m *Manager) shuffleLocked() {
	current := m.original[m.savedIndex]
	rest := make([]models.Song, 0, len(m.original)-1)
	rest = append(rest, m.original[:m.savedIndex]...)
	rest = append(rest, m.original[m.savedIndex+1:]...)
	m.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	m.active = append([]models.Song{current}, rest...)
	m.index = 0
}

// SetRepeatMode changes the repeat mode without touching the position.
func (m *Manager) SetRepeatMode(mode RepeatMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = mode
}

// Advance applies the end-of-track policy.
//
// Repeat one replays the same index. Otherwise the index moves forward to the next playable song.
// Past the last index, repeat all wraps to 0 and repeat off stops without moving.
func (m *Manager) Advance() Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) == 0 {
		return Step{Stopped: true}
	}
	if m.repeat == RepeatOne {
		return Step{Index: m.index, Replay: true}
	}
	return m.forwardLocked()
}

// SkipNext moves to the next playable song. At the end it follows the same end-of-queue policy as
// [Manager.Advance], but a skip never replays under repeat one.
func (m *Manager) SkipNext() Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) == 0 {
		return Step{Stopped: true}
	}
	return m.forwardLocked()
}

// forwardLocked steps over songs without a stream. The index only changes when a playable song is found.
func (m *Manager) forwardLocked() Step {
	for i := m.index + 1; i < len(m.active); i++ {
		if m.active[i].Playable() {
			m.index = i
			return Step{Index: i, Moved: true}
		}
	}
	if m.repeat != RepeatAll {
		return Step{Index: m.index, Stopped: true}
	}
	for i := 0; i <= m.index; i++ {
		if !m.active[i].Playable() {
			continue
		}
		if i == m.index {
			return Step{Index: i, Replay: true}
		}
		m.index = i
		return Step{Index: i, Moved: true}
	}
	return Step{Index: m.index, Stopped: true}
}

// SkipPrevious moves back to the closest earlier playable song. With none before it, it does nothing.
func (m *Manager) SkipPrevious() Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.index - 1; i >= 0; i-- {
		if m.active[i].Playable() {
			m.index = i
			return Step{Index: i, Moved: true}
		}
	}
	return Step{Index: m.index}
}

// Current returns the song at the current index.
func (m *Manager) Current() (models.Song, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) == 0 {
		return models.Song{}, false
	}
	return m.active[m.index], true
}

// Len returns the length of the active sequence.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Snapshot returns a deep copy of the queue.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{
		Active:   slices.Clone(m.active),
		Original: slices.Clone(m.original),
		Index:    m.index,
		Shuffle:  m.shuffle,
		Repeat:   m.repeat,
	}
}
