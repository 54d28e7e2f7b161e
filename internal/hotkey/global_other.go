//go:build !((linux && cgo) || windows)

package hotkey

// NewGlobal validates combo but cannot grab it: the X11 backend needs cgo
// and macOS needs the hotkey registered from the main thread.
func NewGlobal(combo string) (GlobalHotkey, error) {
	if _, err := ParseCombo(combo); err != nil {
		return nil, err
	}
	return nil, ErrGlobalUnsupported
}
