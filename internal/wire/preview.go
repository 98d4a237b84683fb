package wire

import (
	"strings"

	"github.com/rivo/uniseg"
)

const (
	// PreviewLimit bounds the preview sent alongside encrypted messages.
	PreviewLimit = 140
	// LocalPreviewLimit bounds the preview shown for an optimistic local echo.
	LocalPreviewLimit = 120
)

// Truncate returns at most limit user-perceived characters of s. Grapheme
// clusters (emoji with modifiers, combining marks) are never split.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	g := uniseg.NewGraphemes(s)
	count := 0
	end := 0
	for g.Next() {
		if count == limit {
			break
		}
		_, end = g.Positions()
		count++
	}
	return s[:end]
}

// Preview builds the outbound preview of a plaintext message.
func Preview(plaintext string) string {
	return Truncate(strings.TrimSpace(plaintext), PreviewLimit)
}
