package mpv

import (
	"fmt"

	libmpv "github.com/wildeyedskies/go-mpv/mpv"
)

type eventKind int

const (
	eventNone eventKind = iota
	eventFileLoaded
	eventEndFile
	eventShutdown
	eventOther
)

// conn is the slice of libmpv the engine drives.
type conn interface {
	command(args ...string) error
	position() (float64, error)
	waitEvent(timeout float64) (eventKind, error)
	destroy()
}

type mpvConn struct {
	m *libmpv.Mpv
}

// dial creates and initializes an audio-only libmpv handle.
func dial(opts Opts) (*mpvConn, error) {
	m := libmpv.Create()
	settings := map[string]string{
		"video":         "no",
		"audio-display": "no",
		"terminal":      "no",
	}
	if opts.AudioDevice != "" {
		settings["audio-device"] = opts.AudioDevice
	}
	for k, v := range settings {
		if err := m.SetOptionString(k, v); err != nil {
			m.TerminateDestroy()
			return nil, fmt.Errorf("failed to set mpv option %s: %w", k, err)
		}
	}
	if err := m.Initialize(); err != nil {
		m.TerminateDestroy()
		return nil, fmt.Errorf("failed to initialize mpv: %w", err)
	}
	return &mpvConn{m: m}, nil
}

func (c *mpvConn) command(args ...string) error {
	return c.m.Command(args)
}

func (c *mpvConn) position() (float64, error) {
	v, err := c.m.GetProperty("time-pos", libmpv.FORMAT_DOUBLE)
	if err != nil {
		return 0, err
	}
	pos, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected time-pos value %T", v)
	}
	return pos, nil
}

func (c *mpvConn) waitEvent(timeout float64) (eventKind, error) {
	e := c.m.WaitEvent(timeout)
	if e == nil {
		return eventNone, nil
	}
	switch e.Event_Id {
	case libmpv.EVENT_NONE:
		return eventNone, nil
	case libmpv.EVENT_FILE_LOADED:
		return eventFileLoaded, e.Error
	case libmpv.EVENT_END_FILE:
		return eventEndFile, e.Error
	case libmpv.EVENT_SHUTDOWN:
		return eventShutdown, nil
	default:
		return eventOther, nil
	}
}

func (c *mpvConn) destroy() {
	_ = c.m.Command([]string{"quit"})
	c.m.TerminateDestroy()
}
