//go:build windows

package hotkey

import "os"

// ToggleSignal is nil on Windows, which has no user signals. Use stdin.
var ToggleSignal os.Signal

func toggleSignals() []os.Signal { return nil }
