//go:build windows

package hotkey

import xhotkey "golang.design/x/hotkey"

var systemModifiers = map[string]xhotkey.Modifier{
	"ctrl":  xhotkey.ModCtrl,
	"shift": xhotkey.ModShift,
	"alt":   xhotkey.ModAlt,
	"super": xhotkey.ModWin,
}
