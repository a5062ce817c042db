package term

import (
	"fmt"
	"strings"
)

// namedKeys maps key names (lower-cased) to the byte sequences an
// xterm-family terminal would send for them.
var namedKeys = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"backspace": "\x7f",
	"escape":    "\x1b",
	"esc":       "\x1b",
	"space":     " ",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"insert":    "\x1b[2~",
	"delete":    "\x1b[3~",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

// KeySequence translates a named key ("Enter", "Up", "Ctrl+C", ...) into
// the bytes to write to the PTY. Names are case-insensitive.
func KeySequence(name string) ([]byte, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if seq, ok := namedKeys[key]; ok {
		return []byte(seq), nil
	}
	if rest, ok := strings.CutPrefix(key, "ctrl+"); ok && len(rest) == 1 {
		c := rest[0]
		if c >= 'a' && c <= 'z' {
			return []byte{c - 'a' + 1}, nil
		}
	}
	if rest, ok := strings.CutPrefix(key, "alt+"); ok && len(rest) == 1 {
		return []byte{0x1b, rest[0]}, nil
	}
	return nil, fmt.Errorf("unknown key %q", name)
}
