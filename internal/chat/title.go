package chat

import (
	"strings"

	"plotline/internal/storage"
)

// titleMaxRunes bounds derived conversation titles.
const titleMaxRunes = 50

// GenerateTitle derives a conversation title from the first user message:
// whitespace collapsed, rune-safe truncation with an ellipsis. Multi-byte
// input (Cyrillic in particular) is never split mid-rune.
func GenerateTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return storage.DefaultTitle
	}

	runes := []rune(title)
	if len(runes) <= titleMaxRunes {
		return title
	}
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "..."
}
