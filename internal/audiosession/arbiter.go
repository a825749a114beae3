// Package audiosession arbitrates the device's single audio output between backend playback services.
//
// The [Arbiter] never refuses a request. Granting ownership first tells every other registered owner
// to stop, and each owner is expected to pause itself in response. The arbitration is cooperative:
// an owner that ignores the signal can keep driving its engine.
package audiosession

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/shared"
)

// StopFunc is delivered to an owner that is losing the session. It must not call back into the [Arbiter].
type StopFunc func()

// Arbiter holds the current owner tag. The zero value has no owner and no registrations.
type Arbiter struct {
	mu     sync.Mutex
	owner  string
	owners map[string]StopFunc
	logger *log.Logger
}

// NewArbiter creates an [Arbiter]. A nil logger uses the default.
func NewArbiter(logger *log.Logger) *Arbiter {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Arbiter{owners: make(map[string]StopFunc), logger: logger}
}

// Register records the stop callback for owner, replacing any earlier one.
func (a *Arbiter) Register(owner string, stop StopFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owners == nil {
		a.owners = make(map[string]StopFunc)
	}
	a.owners[owner] = stop
}

// Unregister forgets owner, releasing the session if it holds it.
func (a *Arbiter) Unregister(owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.owners, owner)
	if a.owner == owner {
		a.owner = ""
	}
}

// Request grants the session to owner after signalling stop to every other registered owner.
//
// It always returns true.
func (a *Arbiter) Request(owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.owner == owner {
		return true
	}

	for tag, stop := range a.owners {
		if tag == owner || stop == nil {
			continue
		}
		stop()
	}

	if a.logger != nil {
		a.logger.Debug("audio session granted", "owner", owner, "previous", a.owner)
	}
	a.owner = owner
	return true
}

// Release gives up the session. It does nothing unless owner is the current owner.
func (a *Arbiter) Release(owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.owner != owner {
		return
	}
	a.owner = ""
}

// Owner returns the current owner tag, or "" when nobody holds the session.
func (a *Arbiter) Owner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}
