package spam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inputhaven/inputhaven/internal/domain"
)

func TestCheckKeywordsFlagsKnownPhrases(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]string
		isSpam bool
		reason string
	}{
		{
			name:   "clean message",
			data:   map[string]string{"name": "Ada", "message": "I would like a quote for my project"},
			isSpam: false,
		},
		{
			name:   "keyword in message",
			data:   map[string]string{"message": "Buy VIAGRA now"},
			isSpam: true,
			reason: "Spam keyword detected: viagra",
		},
		{
			name:   "keyword spans concatenated casing",
			data:   map[string]string{"message": "this is a LIMITED time offer"},
			isSpam: true,
			reason: "Spam keyword detected: limited time",
		},
		{
			name: "six urls",
			data: map[string]string{
				"message": "http://a.example http://b.example http://c.example " +
					"http://d.example http://e.example http://f.example",
			},
			isSpam: true,
			reason: "Too many URLs in submission",
		},
		{
			name:   "five urls is fine",
			data:   map[string]string{"message": "http://a.example http://b.example http://c.example http://d.example http://e.example"},
			isSpam: false,
		},
		{
			name:   "near empty content",
			data:   map[string]string{"message": " a "},
			isSpam: true,
			reason: "Submission too short",
		},
		{
			name:   "completely empty content",
			data:   map[string]string{"message": ""},
			isSpam: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := CheckKeywords(tt.data)
			assert.Equal(t, tt.isSpam, verdict.IsSpam)
			if tt.isSpam {
				assert.Equal(t, 100, verdict.Score)
				assert.Equal(t, tt.reason, verdict.Reason)
				assert.Equal(t, domain.SpamMethodKeyword, verdict.Method)
			} else {
				assert.Equal(t, domain.SpamMethodNone, verdict.Method)
			}
		})
	}
}

func TestCheckKeywordsHandlesVeryLongURLs(t *testing.T) {
	long := "https://spam.example/" + strings.Repeat("x", 3000)

	verdict := CheckKeywords(map[string]string{"message": "see " + long + " thanks"})
	assert.False(t, verdict.IsSpam, "a single URL is fine regardless of length")

	parts := make([]string, 6)
	for i := range parts {
		parts[i] = long
	}
	verdict = CheckKeywords(map[string]string{"message": strings.Join(parts, " ")})
	assert.True(t, verdict.IsSpam)
	assert.Equal(t, "Too many URLs in submission", verdict.Reason)
}

func TestCheckKeywordsDeterministicAcrossFieldOrder(t *testing.T) {
	data := map[string]string{
		"a": "hello there",
		"b": "wire",
		"c": "transfer fees apply",
	}
	// "wire" + " " + "transfer..." concatenates into the phrase only in
	// sorted key order; verify repeat runs agree.
	first := CheckKeywords(data)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, CheckKeywords(data))
	}
}

func TestCheckHoneypot(t *testing.T) {
	raw := map[string]string{"_gotcha": "x", "name": "Ada"}

	assert.True(t, CheckHoneypot(raw, "_gotcha"))
	assert.False(t, CheckHoneypot(raw, "_trap"), "unset field is not a catch")
	assert.False(t, CheckHoneypot(map[string]string{"_gotcha": ""}, "_gotcha"), "empty value is not a catch")
	assert.False(t, CheckHoneypot(raw, ""), "no honeypot configured")
}
