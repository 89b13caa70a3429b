package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// ContentHash identifies an audio asset by what it sounds like: language,
// voice and normalized text. Two requests that differ only in punctuation
// or casing resolve to the same asset.
func ContentHash(text, lang, voice string) string {
	return hashOf(lang + "|" + voice + "|" + NormalizeText(text))
}

// TextHash is the voice-independent identity of an asset, used by the
// remote store as a fallback when no asset exists for the requested voice.
func TextHash(text, lang string) string {
	return hashOf(lang + "|" + NormalizeText(text))
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeText lowercases the text, strips punctuation and collapses
// whitespace runs so cosmetic differences do not fragment the cache.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
