package spam

import (
	"context"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
)

// AIChecker is the optional context-aware stage. A nil result with a nil
// error means "no opinion": credentials missing, response malformed, and
// similar conditions all collapse to that, never to a hard failure.
type AIChecker interface {
	Check(ctx context.Context, data map[string]string) (*AIResult, error)
}

// AIResult is the structured verdict from the AI stage.
type AIResult struct {
	IsSpam     bool
	Confidence int // 0–100
	Reason     string
}

// Classifier composes the keyword stage with the optional AI stage using
// short-circuit evaluation.
type Classifier struct {
	ai AIChecker
}

// NewClassifier builds the pipeline. ai may be nil to disable the AI stage
// globally.
func NewClassifier(ai AIChecker) *Classifier {
	return &Classifier{ai: ai}
}

// Classify runs keyword classification first (unconditional, free). If it
// flags spam the pipeline stops there. Otherwise, when useAI is set and the
// stage is configured, the AI result, if it produced one, becomes the final
// verdict. AI failure or unavailability never blocks the submission: the
// pipeline falls through to not-spam. The AI layer can only add rejections,
// never cause an outage-induced false block.
func (c *Classifier) Classify(ctx context.Context, data map[string]string, useAI bool) Verdict {
	verdict := CheckKeywords(data)
	if verdict.IsSpam {
		return verdict
	}

	if useAI && c.ai != nil {
		result, err := c.ai.Check(ctx, data)
		if err != nil {
			logger.Warn("AI spam check failed, treating as not spam", "error", err.Error())
		} else if result != nil {
			return Verdict{
				IsSpam: result.IsSpam,
				Score:  result.Confidence,
				Reason: result.Reason,
				Method: domain.SpamMethodAI,
			}
		}
	}

	return Verdict{Method: domain.SpamMethodNone}
}
