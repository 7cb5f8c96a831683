// Package input turns terminal key events into press and release tokens.
//
// Terminals report a key once when pressed and then repeat it while held, but
// never report the release. KeyHold infers releases from the gap between
// repeats.
package input

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Release windows. A key with no repeat yet must outlast the terminal's
// autorepeat delay; once repeating, a short gap means it was let go.
const (
	DefaultFirstWindow  = 550 * time.Millisecond
	DefaultRepeatWindow = 120 * time.Millisecond
)

var names = map[string]string{
	"esc":   "escape",
	"up":    "up",
	"down":  "down",
	"left":  "left",
	"right": "right",
	"+":     "plus",
	"-":     "minus",
	"*":     "asterisk",
	"=":     "equal",
	"!":     "exclam",
	"@":     "at",
	"#":     "numbersign",
	"$":     "dollar",
	"%":     "percent",
	"^":     "asciicircum",
}

// Token converts a bubbletea key string to an engine key token. Single
// letters and digits map to themselves in lower case.
func Token(key string) (string, bool) {
	if t, ok := names[key]; ok {
		return t, true
	}
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return key, true
		case c >= 'A' && c <= 'Z':
			return strings.ToLower(key), true
		}
	}
	return "", false
}

type hold struct {
	last      time.Time
	repeating bool
}

// KeyHold tracks which keys are held.
type KeyHold struct {
	first  time.Duration
	repeat time.Duration

	mu   sync.Mutex
	held map[string]*hold
}

// NewKeyHold returns a tracker. Zero windows select the defaults.
func NewKeyHold(first, repeat time.Duration) *KeyHold {
	if first <= 0 {
		first = DefaultFirstWindow
	}
	if repeat <= 0 {
		repeat = DefaultRepeatWindow
	}
	return &KeyHold{first: first, repeat: repeat, held: make(map[string]*hold)}
}

// Key records a key event and reports whether it starts a new press.
func (k *KeyHold) Key(token string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if h, ok := k.held[token]; ok {
		h.last = now
		h.repeating = true
		return false
	}
	k.held[token] = &hold{last: now}
	return true
}

// Expire returns, sorted, the keys whose release window has passed and
// forgets them.
func (k *KeyHold) Expire(now time.Time) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var released []string
	for token, h := range k.held {
		window := k.first
		if h.repeating {
			window = k.repeat
		}
		if now.Sub(h.last) > window {
			released = append(released, token)
			delete(k.held, token)
		}
	}
	sort.Strings(released)
	return released
}

// ReleaseAll forgets every held key and returns them, sorted.
func (k *KeyHold) ReleaseAll() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	released := make([]string, 0, len(k.held))
	for token := range k.held {
		released = append(released, token)
	}
	clear(k.held)
	sort.Strings(released)
	return released
}

// Held returns the held keys, sorted.
func (k *KeyHold) Held() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.held))
	for token := range k.held {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
