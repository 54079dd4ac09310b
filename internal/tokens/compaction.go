package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Summarizer performs the one-shot LLM call that reduces a run of messages
// to a single summary string. Defined here (rather than depending on the llm
// package) to keep the token manager free of an LLM-client dependency; the
// runtime wires a concrete llm.Client into this signature.
type Summarizer func(ctx context.Context, text string) (string, error)

// Compact implements auto-compaction (§4.1/§4.5): the system message and the
// last user message are preserved verbatim; ephemeral messages are filtered
// out; the remaining middle is summarized by summarize into a single
// replacement assistant message. On summarization failure, compaction falls
// back to a best-effort reduction that drops the oldest tool messages between
// the system message and the last user message, at most half as many as that
// span holds; it does not check whether the result fits the budget. The
// error is returned for logging (the
// caller treats it as best-effort and proceeds regardless, per §7 "swallowed").
func Compact(ctx context.Context, msgs []*models.Message, summarize Summarizer) ([]*models.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}

	var system *models.Message
	startIdx := 0
	if msgs[0].Role == models.RoleSystem {
		system = msgs[0]
		startIdx = 1
	}

	lastUserIdx := -1
	for i := len(msgs) - 1; i >= startIdx; i-- {
		if msgs[i].Role == models.RoleUser {
			lastUserIdx = i
			break
		}
	}
	if lastUserIdx == -1 {
		lastUserIdx = len(msgs) - 1
	}

	middle := make([]*models.Message, 0, lastUserIdx-startIdx)
	for i := startIdx; i < lastUserIdx; i++ {
		m := msgs[i]
		if m.Metadata.Ephemeral {
			continue
		}
		middle = append(middle, m)
	}

	result := make([]*models.Message, 0, len(msgs))
	if system != nil {
		result = append(result, system)
	}

	if len(middle) == 0 {
		result = append(result, msgs[lastUserIdx:]...)
		return result, nil
	}

	summaryText, err := summarize(ctx, renderTranscript(middle))
	if err != nil {
		return bestEffortReduce(msgs, system, startIdx, lastUserIdx), err
	}

	result = append(result, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   summaryText,
		CreatedAt: time.Now(),
	})
	result = append(result, msgs[lastUserIdx:]...)
	return result, nil
}

// bestEffortReduce drops the oldest tool messages from the middle span, at
// most len(middle)/2 of them (other roles are kept), used when summarization itself
// fails (§4.1 "logged and the turn proceeds with a best-effort reduction").
func bestEffortReduce(msgs []*models.Message, system *models.Message, startIdx, lastUserIdx int) []*models.Message {
	middle := msgs[startIdx:lastUserIdx]
	keep := make([]*models.Message, 0, len(middle))
	dropBudget := len(middle) / 2
	dropped := 0
	for _, m := range middle {
		if dropped < dropBudget && m.Role == models.RoleTool {
			dropped++
			continue
		}
		keep = append(keep, m)
	}

	out := make([]*models.Message, 0, len(msgs)-dropped)
	if system != nil {
		out = append(out, system)
	}
	out = append(out, keep...)
	out = append(out, msgs[lastUserIdx:]...)
	return out
}

func renderTranscript(msgs []*models.Message) string {
	s := ""
	for _, m := range msgs {
		s += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	return s
}
