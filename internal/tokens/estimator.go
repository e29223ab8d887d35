// Package tokens estimates token costs without an external tokenizer and
// truncates message lists to fit a model's context window.
package tokens

import (
	"log"
	"strings"

	"llm-gateway/pkg/models"
)

const (
	// tokensPerWord approximates the cost of one Latin/alphanumeric word.
	tokensPerWord = 1.3
	// tokensPerSymbol approximates the cost of one punctuation symbol.
	tokensPerSymbol = 0.5
	// messageOverhead is the fixed per-message framing cost added by the
	// chat-completion wire format.
	messageOverhead = 4

	// truncateReserveTokens is held back from a single oversized message's
	// budget to leave room for role and framing. Tunable, biased
	// conservative.
	truncateReserveTokens = 10
	// truncateSafetyFactor shrinks the character-ratio cut of an oversized
	// message so the heuristic count of the result stays under budget.
	truncateSafetyFactor = 0.9

	// TruncationMarker is appended to a message whose content was cut.
	TruncationMarker = "...[content truncated]"
)

// Estimator counts approximate tokens for mixed CJK/Latin text. CJK
// ideographs cost one token per character, word runs cost tokensPerWord,
// remaining symbols cost tokensPerSymbol.
type Estimator struct{}

// NewEstimator returns a ready Estimator.
func NewEstimator() *Estimator { return &Estimator{} }

func isCJK(r rune) bool { return r >= 0x4E00 && r <= 0x9FFF }

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// Count estimates the token cost of text. Empty text costs 0; any
// non-empty text costs at least 1.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}

	var cjk, words, symbols int
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case isWordRune(r):
			if !inWord {
				words++
				inWord = true
			}
		case isSpace(r):
			inWord = false
		default:
			symbols++
			inWord = false
		}
	}

	total := cjk + int(float64(words)*tokensPerWord) + int(float64(symbols)*tokensPerSymbol)
	if total < 1 {
		return 1
	}
	return total
}

// CountMessages sums the cost of each message's role and content plus the
// fixed per-message framing overhead.
func (e *Estimator) CountMessages(messages []models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += e.Count(m.Role) + e.Count(m.Content) + messageOverhead
	}
	return total
}

// Truncate fits messages into maxTokens. System messages are budgeted
// first when preserveSystem is set (falling back to only the most recent
// system message if they alone overflow), then non-system messages are
// admitted newest-first until the budget is spent. The oldest message that
// would overflow is dropped, unless it is the only candidate, in which
// case its content is cut by character ratio and tagged with
// TruncationMarker. Admitted messages keep their original order.
func (e *Estimator) Truncate(messages []models.ChatMessage, maxTokens int, preserveSystem bool) []models.ChatMessage {
	if len(messages) == 0 {
		return nil
	}

	var system, other []models.ChatMessage
	for _, m := range messages {
		if m.Role == string(models.RoleSystem) {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	systemTokens := 0
	if preserveSystem && len(system) > 0 {
		systemTokens = e.CountMessages(system)
		if systemTokens > maxTokens {
			system = system[len(system)-1:]
			systemTokens = e.CountMessages(system)
		}
	} else {
		system = nil
	}

	remaining := maxTokens - systemTokens
	if remaining <= 0 {
		if preserveSystem {
			return system
		}
		return nil
	}

	selected := e.selectByBudget(other, remaining)

	result := make([]models.ChatMessage, 0, len(system)+len(selected))
	result = append(result, system...)
	result = append(result, selected...)

	if len(result) < len(messages) {
		log.Printf("context truncated: %d -> %d messages (%d -> %d tokens)",
			len(messages), len(result), e.CountMessages(messages), e.CountMessages(result))
	}
	return result
}

// selectByBudget scans newest to oldest, admitting whole messages while
// the running total fits.
func (e *Estimator) selectByBudget(messages []models.ChatMessage, maxTokens int) []models.ChatMessage {
	var selected []models.ChatMessage
	current := 0

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		cost := e.CountMessages([]models.ChatMessage{m})
		if current+cost <= maxTokens {
			selected = append([]models.ChatMessage{m}, selected...)
			current += cost
			continue
		}
		if len(selected) == 0 && cost > maxTokens {
			if cut, ok := e.truncateSingle(m, maxTokens); ok {
				selected = []models.ChatMessage{cut}
			}
		}
		break
	}
	return selected
}

// truncateSingle cuts one message's content by character ratio so it fits
// maxTokens, keeping truncateReserveTokens for framing.
func (e *Estimator) truncateSingle(m models.ChatMessage, maxTokens int) (models.ChatMessage, bool) {
	if m.Content == "" {
		return m, true
	}

	budget := maxTokens - truncateReserveTokens
	if budget <= 0 {
		return models.ChatMessage{}, false
	}

	current := e.Count(m.Content)
	if current <= budget {
		return m, true
	}

	runes := []rune(m.Content)
	ratio := float64(budget) / float64(current)
	keep := int(float64(len(runes)) * ratio * truncateSafetyFactor)
	if keep <= 0 {
		return models.ChatMessage{}, false
	}

	var b strings.Builder
	b.WriteString(string(runes[:keep]))
	b.WriteString(TruncationMarker)
	return models.ChatMessage{Role: m.Role, Content: b.String()}, true
}
