package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderScrollbackPlain(t *testing.T) {
	raw := []byte("first line\r\nsecond line\r\n")
	out := RenderScrollback(raw, 40, 10, "plain")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "first line", lines[0])
	assert.Equal(t, "second line", lines[1])
	// trailing blank rows are trimmed
	assert.NotContains(t, out, strings.Repeat(" ", 40))
}

func TestRenderScrollbackResolvesControlSequences(t *testing.T) {
	// carriage return overwrite: the emulator shows only the final state
	raw := []byte("progress 10%\rprogress 99%\r\n")
	out := RenderScrollback(raw, 40, 10, "plain")

	assert.Contains(t, out, "progress 99%")
	assert.NotContains(t, out, "progress 10%")
}

func TestRenderScrollbackStripsColor(t *testing.T) {
	raw := []byte("\x1b[31mred text\x1b[0m\r\n")
	out := RenderScrollback(raw, 40, 10, "plain")

	assert.Contains(t, out, "red text")
	assert.NotContains(t, out, "\x1b")
}

func TestRenderScrollbackMarkdown(t *testing.T) {
	out := RenderScrollback([]byte("hello\r\n"), 40, 10, "markdown")

	assert.True(t, strings.HasPrefix(out, "```\n"))
	assert.True(t, strings.HasSuffix(out, "\n```\n"))
	assert.Contains(t, out, "hello")
}

func TestRenderScrollbackEmpty(t *testing.T) {
	assert.Equal(t, "", RenderScrollback(nil, 80, 24, "plain"))
}

func TestRenderScrollbackDefaultsDimensions(t *testing.T) {
	out := RenderScrollback([]byte("sized\r\n"), 0, 0, "plain")
	assert.Contains(t, out, "sized")
}
