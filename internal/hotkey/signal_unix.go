//go:build !windows

package hotkey

import (
	"os"
	"syscall"
)

// ToggleSignal is the signal the toggle command sends to a running relay.
var ToggleSignal os.Signal = syscall.SIGUSR1

func toggleSignals() []os.Signal { return []os.Signal{syscall.SIGUSR1} }
