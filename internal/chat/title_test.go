package chat

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"short message", "Hello there", "Hello there"},
		{"collapses whitespace", "  What   is\nthe\tweather?  ", "What is the weather?"},
		{"empty falls back", "   ", "New conversation"},
		{"exactly fifty runes", strings.Repeat("a", 50), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateTitle(tt.message))
		})
	}
}

func TestGenerateTitle_TruncatesLongMessage(t *testing.T) {
	long := strings.Repeat("abcde ", 20)
	title := GenerateTitle(long)

	assert.True(t, strings.HasSuffix(title, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(title), 53)
}

func TestGenerateTitle_CyrillicRuneSafe(t *testing.T) {
	long := strings.Repeat("покажи график продаж ", 5)
	title := GenerateTitle(long)

	assert.True(t, utf8.ValidString(title), "truncation must not split a rune")
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(title), 53)
}
