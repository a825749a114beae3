package audiosession

import (
	"fmt"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/desertthunder/polyplay/internal/shared"
)

// recorder tracks ownership as observed through stop signals.
type recorder struct {
	arbiter *Arbiter
	events  []string
	stopped map[string]int
}

func newRecorder(owners ...string) *recorder {
	r := &recorder{arbiter: NewArbiter(shared.NewLogger(io.Discard)), stopped: map[string]int{}}
	for _, o := range owners {
		r.arbiter.Register(o, func() {
			r.stopped[o]++
			r.events = append(r.events, "stop:"+o)
		})
	}
	return r
}

func TestArbiter(t *testing.T) {
	t.Run("request always grants", func(t *testing.T) {
		r := newRecorder("a", "b")
		if !r.arbiter.Request("a") || r.arbiter.Owner() != "a" {
			t.Fatal("expected a to own the session")
		}
		if !r.arbiter.Request("b") || r.arbiter.Owner() != "b" {
			t.Fatal("expected b to own the session")
		}
	})

	t.Run("new owner signals stop to the previous owner first", func(t *testing.T) {
		r := newRecorder("a", "b")
		r.arbiter.Request("a")
		r.arbiter.Request("b")
		if r.stopped["a"] == 0 {
			t.Error("a should have been told to stop")
		}
		if r.stopped["b"] != 1 {
			t.Errorf("b should only be stopped by a's first request, got %d", r.stopped["b"])
		}
	})

	t.Run("re-request by the owner does not signal", func(t *testing.T) {
		r := newRecorder("a", "b")
		r.arbiter.Request("a")
		before := len(r.events)
		r.arbiter.Request("a")
		if len(r.events) != before {
			t.Error("owner re-request should not signal anyone")
		}
	})

	t.Run("release by non-owner is a no-op", func(t *testing.T) {
		r := newRecorder("a", "b")
		r.arbiter.Request("a")
		r.arbiter.Release("b")
		if r.arbiter.Owner() != "a" {
			t.Error("non-owner release should not change the owner")
		}
		r.arbiter.Release("a")
		if r.arbiter.Owner() != "" {
			t.Error("owner release should clear the session")
		}
	})

	t.Run("unregister releases", func(t *testing.T) {
		r := newRecorder("a")
		r.arbiter.Request("a")
		r.arbiter.Unregister("a")
		if r.arbiter.Owner() != "" {
			t.Error("expected no owner after unregister")
		}
	})

	t.Run("zero value is usable", func(t *testing.T) {
		var a Arbiter
		a.Register("x", nil)
		if !a.Request("x") || a.Owner() != "x" {
			t.Error("zero value arbiter should grant")
		}
	})

	t.Run("random sequences keep a single owner and signal every handover", func(t *testing.T) {
		owners := []string{"catalog", "audiostation", "subsonic", "local"}
		for seed := range uint64(40) {
			rng := rand.New(rand.NewPCG(seed, 99))
			r := newRecorder(owners...)

			for step := range 100 {
				who := owners[rng.IntN(len(owners))]
				prev := r.arbiter.Owner()
				stopsBefore := r.stopped[prev]

				if rng.IntN(3) == 0 {
					r.arbiter.Release(who)
					if prev != who && r.arbiter.Owner() != prev {
						t.Fatalf("seed %d step %d: release by %s changed owner %s", seed, step, who, prev)
					}
					continue
				}

				r.arbiter.Request(who)
				if got := r.arbiter.Owner(); got != who {
					t.Fatalf("seed %d step %d: expected owner %s, got %s", seed, step, who, got)
				}
				if prev != "" && prev != who && r.stopped[prev] != stopsBefore+1 {
					t.Fatalf("seed %d step %d: %s was not signalled before %s took over", seed, step, prev, who)
				}
			}
		}
	})
}

func ExampleArbiter() {
	a := NewArbiter(shared.NewLogger(io.Discard))
	a.Register("local", func() { fmt.Println("local: pause") })
	a.Register("subsonic", func() { fmt.Println("subsonic: pause") })

	a.Request("local")
	fmt.Println("owner:", a.Owner())
	// Output:
	// subsonic: pause
	// owner: local
}
