//go:build linux && cgo

package hotkey

import xhotkey "golang.design/x/hotkey"

// X11 maps Alt to Mod1 and Super to Mod4 on common keyboard layouts.
var systemModifiers = map[string]xhotkey.Modifier{
	"ctrl":  xhotkey.ModCtrl,
	"shift": xhotkey.ModShift,
	"alt":   xhotkey.Mod1,
	"super": xhotkey.Mod4,
}
