package sessions

import (
	"unicode/utf8"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// EstimateTokens approximates the token count of text as one token per four
// characters. It is a cheap deterministic proxy, not a tokenizer.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

func estimateTurns(turns []models.Turn) int {
	chars := 0
	for _, turn := range turns {
		chars += utf8.RuneCountInString(turn.Content)
	}
	return chars / 4
}

// Trim fits history into maxTokens.
//
// Pinned turns are always kept. Conversational turns are dropped from the
// oldest end until the remaining conversational text fits the budget or a
// single conversational turn is left; that last turn is kept in full even if
// it alone exceeds the budget. The result lists pinned turns first, then the
// retained conversational tail, each in their original order.
func Trim(history []models.Turn, maxTokens int) []models.Turn {
	if len(history) == 0 {
		return nil
	}

	var pinned, conversational []models.Turn
	for _, turn := range history {
		if turn.Role.Pinned() {
			pinned = append(pinned, turn)
		} else {
			conversational = append(conversational, turn)
		}
	}

	if estimateTurns(conversational) <= maxTokens {
		return history
	}

	for len(conversational) > 1 && estimateTurns(conversational) > maxTokens {
		conversational = conversational[1:]
	}

	out := make([]models.Turn, 0, len(pinned)+len(conversational))
	out = append(out, pinned...)
	return append(out, conversational...)
}
