// File: internal/hotkey/global.go
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultGlobalCombo is the system-wide pause chord.
const DefaultGlobalCombo = "ctrl+alt+p"

// ErrGlobalUnsupported is returned by NewGlobal on platforms or builds
// without a system hotkey backend.
var ErrGlobalUnsupported = errors.New("global hotkeys are not supported in this build")

// GlobalHotkey is a system-wide key chord. Pressed delivers one value per
// key press between Register and Unregister.
type GlobalHotkey interface {
	Register() error
	Unregister() error
	Pressed() <-chan struct{}
}

// Combo is a parsed chord such as "ctrl+alt+p".
type Combo struct {
	Mods []string
	Key  string
}

func (c Combo) String() string {
	return strings.Join(append(append([]string{}, c.Mods...), c.Key), "+")
}

var modifierNames = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"shift":   "shift",
	"alt":     "alt",
	"super":   "super",
	"win":     "super",
}

// ParseCombo parses "mod+mod+key". Modifiers are ctrl, shift, alt and
// super; the key is a letter, a digit or f1..f12. At least one modifier is
// required so the chord cannot swallow ordinary typing.
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return Combo{}, fmt.Errorf("hotkey %q needs at least one modifier and a key", s)
	}
	var c Combo
	seen := make(map[string]bool)
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierNames[strings.TrimSpace(p)]
		if !ok {
			return Combo{}, fmt.Errorf("hotkey %q: unknown modifier %q", s, p)
		}
		if seen[mod] {
			return Combo{}, fmt.Errorf("hotkey %q: duplicate modifier %q", s, p)
		}
		seen[mod] = true
		c.Mods = append(c.Mods, mod)
	}
	c.Key = strings.TrimSpace(parts[len(parts)-1])
	if !validKey(c.Key) {
		return Combo{}, fmt.Errorf("hotkey %q: unsupported key %q", s, c.Key)
	}
	return c, nil
}

func validKey(k string) bool {
	if len(k) == 1 {
		return (k[0] >= 'a' && k[0] <= 'z') || (k[0] >= '0' && k[0] <= '9')
	}
	for i := 1; i <= 12; i++ {
		if k == fmt.Sprintf("f%d", i) {
			return true
		}
	}
	return false
}
