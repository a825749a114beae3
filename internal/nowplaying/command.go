package nowplaying

import (
	"fmt"
	"math"
	"strings"

	"github.com/desertthunder/polyplay/internal/queue"
	"github.com/desertthunder/polyplay/internal/shared"
)

// CommandKind names a remote-control action.
type CommandKind string

const (
	CommandPlay     CommandKind = "play"
	CommandPause    CommandKind = "pause"
	CommandToggle   CommandKind = "toggle"
	CommandNext     CommandKind = "next"
	CommandPrevious CommandKind = "previous"
	CommandSeek     CommandKind = "seek"
	CommandStop     CommandKind = "stop"
	CommandShuffle  CommandKind = "shuffle"
	CommandRepeat   CommandKind = "repeat"
)

// CommandKinds lists every accepted kind.
var CommandKinds = []CommandKind{
	CommandPlay, CommandPause, CommandToggle, CommandNext, CommandPrevious,
	CommandSeek, CommandStop, CommandShuffle, CommandRepeat,
}

// Command is a message sent into the player's serialized mutation point.
type Command struct {
	Kind     CommandKind `json:"kind"`
	Position float64     `json:"position,omitempty"` // seconds, for seek
	Shuffle  bool        `json:"shuffle,omitempty"`
	Repeat   string      `json:"repeat,omitempty"` // off, all or one
}

// ParseCommandKind matches s case-insensitively against [CommandKinds].
func ParseCommandKind(s string) (CommandKind, error) {
	k := CommandKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range CommandKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown command %q", shared.ErrInvalidArgument, s)
}

// Validate checks the kind and its arguments.
func (c Command) Validate() error {
	if _, err := ParseCommandKind(string(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case CommandSeek:
		// Out of range positions are clamped by the player.
		if math.IsNaN(c.Position) || math.IsInf(c.Position, 0) {
			return fmt.Errorf("%w: seek position %v", shared.ErrInvalidArgument, c.Position)
		}
	case CommandRepeat:
		if _, err := queue.ParseRepeatMode(c.Repeat); err != nil {
			return err
		}
	}
	return nil
}

// RepeatMode parses the Repeat field.
func (c Command) RepeatMode() queue.RepeatMode {
	mode, _ := queue.ParseRepeatMode(c.Repeat)
	return mode
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSeek:
		return fmt.Sprintf("seek(%.1f)", c.Position)
	case CommandShuffle:
		return fmt.Sprintf("shuffle(%t)", c.Shuffle)
	case CommandRepeat:
		return fmt.Sprintf("repeat(%s)", c.RepeatMode())
	default:
		return string(c.Kind)
	}
}
