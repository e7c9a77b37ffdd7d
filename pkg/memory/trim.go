package memory

import "github.com/forgesight/forgesight/pkg/models"

// EstimateTokens approximates the token cost of a message. Four
// characters per token plus a small per-message overhead; exact counts
// are not worth a tokenizer dependency for a trim heuristic.
func EstimateTokens(msg models.Message) int {
	return len(msg.Content)/4 + 4
}

// TrimForContext returns the newest messages whose cumulative token
// estimate fits the budget, always retaining a leading system prompt.
// Messages are grouped into exchanges (a user message plus everything up
// to the next user message) and an exchange is kept or dropped whole, so
// a user/assistant/tool triplet is never split. The newest exchange is
// always kept, budget or not.
func TrimForContext(messages []models.Message, budgetTokens int) []models.Message {
	if len(messages) == 0 {
		return nil
	}

	var system *models.Message
	rest := messages
	if messages[0].Role == models.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	budget := budgetTokens
	if system != nil {
		budget -= EstimateTokens(*system)
	}

	groups := groupExchanges(rest)

	// Walk newest-first, keeping whole exchanges while they fit.
	kept := 0
	used := 0
	for i := len(groups) - 1; i >= 0; i-- {
		cost := 0
		for _, msg := range groups[i] {
			cost += EstimateTokens(msg)
		}
		if kept > 0 && used+cost > budget {
			break
		}
		used += cost
		kept++
	}

	out := make([]models.Message, 0, len(messages))
	if system != nil {
		out = append(out, *system)
	}
	for _, group := range groups[len(groups)-kept:] {
		out = append(out, group...)
	}
	return out
}

// groupExchanges splits messages at user-message boundaries. Leading
// non-user messages form their own group.
func groupExchanges(messages []models.Message) [][]models.Message {
	var groups [][]models.Message
	for _, msg := range messages {
		if msg.Role == models.RoleUser || len(groups) == 0 {
			groups = append(groups, []models.Message{msg})
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], msg)
	}
	return groups
}
