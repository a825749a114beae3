// Package playback drives a [MediaEngine] through load, play, pause, seek and advance transitions.
//
// The state graph:
//
//	Idle --load--> Loading --mediaReady--> Ready --autoplay--> Playing
//	Loading --mediaError--> Failed
//	Playing --pause--> Paused --resume--> Playing
//	Playing --reachEnd--> Finished --advance--> Loading | Finished
//	any --stop--> Stopped
//
// A [Machine] never retries a failed load. The queue index is left where it was and the caller decides
// whether to skip or retry.
package playback

// State is a playback state.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Playing
	Paused
	Finished
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether a song is loaded in the engine.
func (s State) Active() bool {
	return s == Loading || s == Ready || s == Playing || s == Paused
}

// Seekable reports whether seek is valid in this state.
func (s State) Seekable() bool {
	return s == Ready || s == Playing || s == Paused
}
