package deck

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

// Normalize concatenates the card's front and back after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings. The
// difficulty tag is not part of the content, so re-tagging a card keeps its ID.
func Normalize(card domain.Card) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}
	// Joined with a newline so "ab"+"c" and "a"+"bc" stay distinct.
	return normalizePart(card.Front) + "\n" + normalizePart(card.Back)
}

// Hash returns the SHA-256 of the normalized card as a hex string.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return fmt.Sprintf("%x", sum)
}
