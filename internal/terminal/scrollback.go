package terminal

import (
	"bytes"
	"strings"

	"github.com/hinshun/vt10x"
)

// RenderScrollback replays raw output through a terminal emulator and returns
// the visible screen as plain text, with trailing blank lines and per-line
// padding trimmed. The "markdown" format wraps the result in a code fence for
// chat-style consumers.
func RenderScrollback(raw []byte, cols, rows int, format string) string {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	vt := vt10x.New(vt10x.WithSize(cols, rows))
	vt.Write(raw)

	var buf bytes.Buffer
	for row := 0; row < rows; row++ {
		if row > 0 {
			buf.WriteByte('\n')
		}
		for col := 0; col < cols; col++ {
			cell := vt.Cell(col, row)
			if cell.Char == 0 {
				buf.WriteByte(' ')
			} else {
				buf.WriteRune(cell.Char)
			}
		}
	}

	lines := strings.Split(buf.String(), "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		lines = nil
	} else {
		lines = lines[:last+1]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	text := strings.Join(lines, "\n")

	if format == "markdown" {
		return "```\n" + text + "\n```\n"
	}
	return text
}
