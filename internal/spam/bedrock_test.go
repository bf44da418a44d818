package spam

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	// 300 two-byte runes is 600 bytes; a naive byte slice at an odd index
	// would cut through the middle of one.
	s := strings.Repeat("é", 300)

	out := truncate(s, 499)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("é", 249)+"...", out)

	out = truncate(s, 500)
	assert.Equal(t, strings.Repeat("é", 250)+"...", out)
}
