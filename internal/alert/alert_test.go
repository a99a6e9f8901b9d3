package alert

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedPrefs bool

func (p fixedPrefs) SoundEnabled() bool { return bool(p) }

type togglePrefs struct{ on bool }

func (p *togglePrefs) SoundEnabled() bool { return p.on }

func TestBellWritesBellCharacter(t *testing.T) {
	var buf bytes.Buffer
	b := NewBell(&buf)
	b.Play()
	b.Play()
	assert.Equal(t, "\a\a", buf.String())
}

func TestNotifyRespectsPreference(t *testing.T) {
	var buf bytes.Buffer
	a := New(fixedPrefs(false), NewBell(&buf))
	a.Notify()
	assert.Empty(t, buf.String())

	a = New(fixedPrefs(true), NewBell(&buf))
	a.Notify()
	assert.Equal(t, "\a", buf.String())
}

func TestToggleTakesEffectImmediately(t *testing.T) {
	var buf bytes.Buffer
	prefs := &togglePrefs{on: true}
	a := New(prefs, NewBell(&buf))

	a.Notify()
	prefs.on = false
	a.Notify()
	prefs.on = true
	a.Notify()

	assert.Equal(t, "\a\a", buf.String())
}

func TestNilPreferencesDefaultsToSound(t *testing.T) {
	var buf bytes.Buffer
	a := New(nil, NewBell(&buf))
	a.Notify()
	assert.Equal(t, "\a", buf.String())
}
