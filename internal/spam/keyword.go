// Package spam classifies form submissions through a short-circuit pipeline:
// a free deterministic keyword/heuristic stage, then an optional paid
// AI stage. The honeypot gate lives here too but runs before the pipeline;
// its handling (silent accept, no quota charge) differs from the classifier
// contract.
package spam

import (
	"regexp"
	"sort"
	"strings"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// Verdict is the classification result for one submission.
type Verdict struct {
	IsSpam bool
	// Score is a 0–100 confidence. Keyword matches are always 100.
	Score  int
	Reason string
	Method domain.SpamMethod
}

var spamKeywords = []string{
	"viagra",
	"cialis",
	"casino",
	"lottery",
	"winner",
	"click here",
	"buy now",
	"free money",
	"act now",
	"limited time",
	"no obligation",
	"risk free",
	"as seen on",
	"order now",
	"special promotion",
	"nigerian prince",
	"wire transfer",
	"bitcoin doubler",
	"crypto giveaway",
}

// The bound caps how much of each URL token is scanned; RE2 rejects repeat
// counts above 1000.
var urlRegex = regexp.MustCompile(`https?://\S{1,1000}`)

const maxURLCount = 5

// CheckKeywords runs the deterministic heuristic stage: fixed phrase list,
// excessive URL count, and near-empty content. Same fields always produce
// the same verdict: no learning, no network.
func CheckKeywords(data map[string]string) Verdict {
	// Field iteration order must not affect the verdict, so sort keys.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(data[k])
	}
	text := strings.ToLower(sb.String())

	for _, keyword := range spamKeywords {
		if strings.Contains(text, keyword) {
			return Verdict{
				IsSpam: true,
				Score:  100,
				Reason: "Spam keyword detected: " + keyword,
				Method: domain.SpamMethodKeyword,
			}
		}
	}

	if len(urlRegex.FindAllString(text, maxURLCount+1)) > maxURLCount {
		return Verdict{
			IsSpam: true,
			Score:  100,
			Reason: "Too many URLs in submission",
			Method: domain.SpamMethodKeyword,
		}
	}

	condensed := strings.Join(strings.Fields(text), "")
	if len(condensed) > 0 && len(condensed) < 3 {
		return Verdict{
			IsSpam: true,
			Score:  100,
			Reason: "Submission too short",
			Method: domain.SpamMethodKeyword,
		}
	}

	return Verdict{Method: domain.SpamMethodNone}
}

// CheckHoneypot reports whether the configured honeypot field carries a
// non-empty value in the RAW payload (before reserved fields are stripped).
// Humans never see the field; any value means a bot filled it.
func CheckHoneypot(raw map[string]string, honeypotField string) bool {
	if honeypotField == "" {
		return false
	}
	return raw[honeypotField] != ""
}
