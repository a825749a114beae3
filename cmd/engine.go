package main

import (
	"context"

	"github.com/desertthunder/polyplay/internal/playback"
)

// silentEngine stands in for the audio output in commands that never play.
type silentEngine struct {
	events chan playback.EngineEvent
}

func newSilentEngine() *silentEngine {
	return &silentEngine{events: make(chan playback.EngineEvent)}
}

func (e *silentEngine) Load(ctx context.Context, url string) error { return nil }
func (e *silentEngine) Play(ctx context.Context) error { return nil }
func (e *silentEngine) Pause(ctx context.Context) error { return nil }
func (e *silentEngine) Seek(ctx context.Context, seconds float64) error { return nil }
func (e *silentEngine) Stop(ctx context.Context) error { return nil }
func (e *silentEngine) Position() float64 { return 0 }
func (e *silentEngine) Events() <-chan playback.EngineEvent { return e.events }
