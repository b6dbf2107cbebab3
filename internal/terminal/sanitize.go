package terminal

import (
	"bytes"
	"regexp"
)

// Truncation and transport hiccups can leave escape-sequence fragments in the
// replay window: a title-setting command whose ESC was dropped, a stray
// device-attribute response, a cursor sequence with a duplicated prefix, or a
// sequence cut in half at the end of the window. Sanitize removes these so a
// replayed snapshot never renders a dangling partial sequence. It is
// idempotent: sanitizing twice yields the same bytes as sanitizing once.

var (
	// "]0;title\a" with no leading ESC, the OSC introducer was truncated away
	orphanTitleRe = regexp.MustCompile(`(^|[^\x1b])\]0;[^\x07\x1b\n]*\x07`)
	// "[?1;2c" style device-attribute response with no leading ESC
	orphanDeviceAttrRe = regexp.MustCompile(`(^|[^\x1b])\[\?[0-9;]+c`)
	// a CSI introducer immediately followed by another CSI introducer
	doubleCSIRe = regexp.MustCompile(`\x1b\[\x1b\[`)

	// partial sequences cut off at the end of the window
	trailingOSCRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*$`)
	trailingCSIRe = regexp.MustCompile(`\x1b\[[0-9;?]*$`)
	trailingESCRe = regexp.MustCompile(`\x1b$`)
)

// Sanitize strips malformed terminal control fragments from a replay chunk
func Sanitize(p []byte) []byte {
	if len(p) == 0 {
		return p
	}

	out := p
	for {
		next := sanitizePass(out)
		if bytes.Equal(next, out) {
			return next
		}
		out = next
	}
}

func sanitizePass(p []byte) []byte {
	p = orphanTitleRe.ReplaceAll(p, []byte("$1"))
	p = orphanDeviceAttrRe.ReplaceAll(p, []byte("$1"))
	p = doubleCSIRe.ReplaceAll(p, []byte("\x1b["))
	p = trailingOSCRe.ReplaceAll(p, nil)
	p = trailingCSIRe.ReplaceAll(p, nil)
	p = trailingESCRe.ReplaceAll(p, nil)
	return p
}
