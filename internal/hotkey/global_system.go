//go:build (linux && cgo) || windows

package hotkey

import (
	"fmt"
	"sync"

	xhotkey "golang.design/x/hotkey"
)

var systemKeys = map[string]xhotkey.Key{
	"a": xhotkey.KeyA, "b": xhotkey.KeyB, "c": xhotkey.KeyC, "d": xhotkey.KeyD,
	"e": xhotkey.KeyE, "f": xhotkey.KeyF, "g": xhotkey.KeyG, "h": xhotkey.KeyH,
	"i": xhotkey.KeyI, "j": xhotkey.KeyJ, "k": xhotkey.KeyK, "l": xhotkey.KeyL,
	"m": xhotkey.KeyM, "n": xhotkey.KeyN, "o": xhotkey.KeyO, "p": xhotkey.KeyP,
	"q": xhotkey.KeyQ, "r": xhotkey.KeyR, "s": xhotkey.KeyS, "t": xhotkey.KeyT,
	"u": xhotkey.KeyU, "v": xhotkey.KeyV, "w": xhotkey.KeyW, "x": xhotkey.KeyX,
	"y": xhotkey.KeyY, "z": xhotkey.KeyZ,
	"0": xhotkey.Key0, "1": xhotkey.Key1, "2": xhotkey.Key2, "3": xhotkey.Key3,
	"4": xhotkey.Key4, "5": xhotkey.Key5, "6": xhotkey.Key6, "7": xhotkey.Key7,
	"8": xhotkey.Key8, "9": xhotkey.Key9,
	"f1": xhotkey.KeyF1, "f2": xhotkey.KeyF2, "f3": xhotkey.KeyF3, "f4": xhotkey.KeyF4,
	"f5": xhotkey.KeyF5, "f6": xhotkey.KeyF6, "f7": xhotkey.KeyF7, "f8": xhotkey.KeyF8,
	"f9": xhotkey.KeyF9, "f10": xhotkey.KeyF10, "f11": xhotkey.KeyF11, "f12": xhotkey.KeyF12,
}

// systemHotkey grabs a chord through the window system.
type systemHotkey struct {
	hk      *xhotkey.Hotkey
	pressed chan struct{}

	mu   sync.Mutex
	done chan struct{}
}

// NewGlobal builds a system-wide hotkey for combo, e.g. "ctrl+alt+p".
// Nothing is grabbed until Register.
func NewGlobal(combo string) (GlobalHotkey, error) {
	c, err := ParseCombo(combo)
	if err != nil {
		return nil, err
	}
	mods := make([]xhotkey.Modifier, 0, len(c.Mods))
	for _, name := range c.Mods {
		mod, ok := systemModifiers[name]
		if !ok {
			return nil, fmt.Errorf("hotkey %q: modifier %q is not available on this platform", combo, name)
		}
		mods = append(mods, mod)
	}
	return &systemHotkey{
		hk:      xhotkey.New(mods, systemKeys[c.Key]),
		pressed: make(chan struct{}, 1),
	}, nil
}

func (s *systemHotkey) Register() error {
	if err := s.hk.Register(); err != nil {
		return fmt.Errorf("register global hotkey: %w", err)
	}
	s.mu.Lock()
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	go s.forward(done)
	return nil
}

func (s *systemHotkey) forward(done <-chan struct{}) {
	keydown := s.hk.Keydown()
	for {
		select {
		case <-done:
			return
		case _, ok := <-keydown:
			if !ok {
				return
			}
			select {
			case s.pressed <- struct{}{}:
			default:
			}
		}
	}
}

func (s *systemHotkey) Unregister() error {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()
	return s.hk.Unregister()
}

func (s *systemHotkey) Pressed() <-chan struct{} { return s.pressed }
