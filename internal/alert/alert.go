// Package alert plays an audible cue when something arrives that the
// user has not seen yet.
package alert

import (
	"io"
	"os"
	"sync"
)

// Preferences reports whether the user wants sound at all.
type Preferences interface {
	SoundEnabled() bool
}

// Sounder emits a single audible cue.
type Sounder interface {
	Play()
}

// Bell writes the terminal bell character. Playback failures are
// swallowed; an alert must never break the caller.
type Bell struct {
	mu  sync.Mutex
	out io.Writer
}

// NewBell returns a Bell writing to out, defaulting to stderr.
func NewBell(out io.Writer) *Bell {
	if out == nil {
		out = os.Stderr
	}
	return &Bell{out: out}
}

func (b *Bell) Play() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = io.WriteString(b.out, "\a")
}

// Alerter gates a Sounder behind the persisted sound preference. The
// preference is consulted on every Notify so a toggle takes effect
// immediately.
type Alerter struct {
	prefs   Preferences
	sounder Sounder
}

// New returns an Alerter. A nil sounder defaults to the terminal bell.
func New(prefs Preferences, sounder Sounder) *Alerter {
	if sounder == nil {
		sounder = NewBell(nil)
	}
	return &Alerter{prefs: prefs, sounder: sounder}
}

// Notify plays the cue unless sound is disabled.
func (a *Alerter) Notify() {
	if a.prefs != nil && !a.prefs.SoundEnabled() {
		return
	}
	a.sounder.Play()
}
