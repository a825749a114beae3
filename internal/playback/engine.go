package playback

import "context"

// EventKind classifies what the media engine reported.
type EventKind int

const (
	MediaReady EventKind = iota
	MediaError
	ReachedEnd
)

func (k EventKind) String() string {
	switch k {
	case MediaReady:
		return "media_ready"
	case MediaError:
		return "media_error"
	case ReachedEnd:
		return "reached_end"
	default:
		return "unknown"
	}
}

// EngineEvent is an asynchronous report from a [MediaEngine].
type EngineEvent struct {
	Kind EventKind
	Err  error
}

// MediaEngine plays one stream URL at a time. Implementations report readiness, failures and
// end of stream on the Events channel.
type MediaEngine interface {
	Load(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Stop(ctx context.Context) error
	Position() float64
	Events() <-chan EngineEvent
}

// Gate grants exclusive use of the audio output. [audiosession.Arbiter] satisfies it.
type Gate interface {
	Request(owner string) bool
	Release(owner string)
}
