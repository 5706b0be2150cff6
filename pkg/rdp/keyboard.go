// RustConn Go - Remote connection engine for RDP sessions
// Copyright (C) 2025 - RustConn contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Keyboard layout detection for RDP sessions. The server uses the Windows
// keyboard layout identifier (KLID) announced during the handshake to
// interpret scancodes, so a wrong value produces garbled typing.
//
// Detection order: XKB_DEFAULT_LAYOUT environment variable, then
// "localectl status", then the US English fallback.

package rdp

import (
	"os"
	"os/exec"
	"strings"
)

// LayoutUSEnglish is the fallback keyboard layout (KLID 0x0409).
const LayoutUSEnglish uint32 = 0x0409

// DetectKeyboardLayout returns the Windows KLID for the host keyboard
// layout, falling back to US English when nothing can be detected.
func DetectKeyboardLayout() uint32 {
	if layout := os.Getenv("XKB_DEFAULT_LAYOUT"); layout != "" {
		name, _, _ := strings.Cut(layout, ",")
		if klid, ok := xkbNameToKLID(strings.TrimSpace(name)); ok {
			return klid
		}
	}
	if name, ok := layoutFromLocalectl(); ok {
		if klid, ok := xkbNameToKLID(name); ok {
			return klid
		}
	}
	return LayoutUSEnglish
}

// layoutFromLocalectl parses "localectl status" output for the X11 layout
// or VC keymap line.
func layoutFromLocalectl() (string, bool) {
	out, err := exec.Command("localectl", "status").Output()
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		var value string
		switch {
		case strings.HasPrefix(trimmed, "X11 Layout:"):
			value = strings.TrimPrefix(trimmed, "X11 Layout:")
		case strings.HasPrefix(trimmed, "VC Keymap:"):
			value = strings.TrimPrefix(trimmed, "VC Keymap:")
		default:
			continue
		}
		name, _, _ := strings.Cut(strings.TrimSpace(value), ",")
		name = strings.TrimSpace(name)
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// xkbNameToKLID maps an XKB layout name (e.g. "de") to a Windows KLID.
// Covers the common layouts; unknown names report ok=false.
// Reference: Microsoft "Default input locales for Windows language packs".
func xkbNameToKLID(name string) (uint32, bool) {
	klid, ok := xkbKLIDs[name]
	return klid, ok
}

var xkbKLIDs = map[string]uint32{
	"us":    0x0409,
	"gb":    0x0809,
	"uk":    0x0809,
	"de":    0x0407,
	"fr":    0x040C,
	"es":    0x040A,
	"it":    0x0410,
	"pt":    0x0816,
	"br":    0x0416,
	"nl":    0x0413,
	"be":    0x080C, // Belgian French
	"ch":    0x0807, // Swiss German
	"at":    0x0C07, // Austrian German
	"se":    0x041D,
	"no":    0x0414,
	"dk":    0x0406,
	"fi":    0x040B,
	"pl":    0x0415,
	"cz":    0x0405,
	"sk":    0x041B,
	"hu":    0x040E,
	"ro":    0x0418,
	"bg":    0x0402,
	"hr":    0x041A,
	"si":    0x0424,
	"rs":    0x081A,
	"sr":    0x081A,
	"ru":    0x0419,
	"ua":    0x0422,
	"by":    0x0423,
	"tr":    0x041F,
	"gr":    0x0408,
	"el":    0x0408,
	"il":    0x040D,
	"he":    0x040D,
	"ar":    0x0401,
	"jp":    0x0411,
	"kr":    0x0412,
	"ko":    0x0412,
	"cn":    0x0804,
	"zh":    0x0804,
	"tw":    0x0404,
	"th":    0x041E,
	"in":    0x0439, // Hindi
	"ie":    0x1809, // Irish English
	"is":    0x040F,
	"ee":    0x0425,
	"lt":    0x0427,
	"lv":    0x0426,
	"latam": 0x080A, // Latin American Spanish
}

// keyboardLayoutFor resolves the layout for a connection attempt: the
// explicit config value wins, otherwise the host default is detected.
func keyboardLayoutFor(cfg *ConnectionConfig) uint32 {
	if cfg.KeyboardLayout != 0 {
		return cfg.KeyboardLayout
	}
	return DetectKeyboardLayout()
}
