package runtime

import (
	"fmt"
	"strings"
)

// assembleSystemPrompt builds the system prompt described in §4.5: the
// agent's static base identity/directives, tool usage guidance gathered
// from every registered tool, a dynamic block carrying the current task
// prompt (present only for sub-agents), and a context-usage reminder block
// once usage crosses the informational threshold.
func (a *Agent) assembleSystemPrompt() string {
	var b strings.Builder
	b.WriteString(a.basePrompt)

	if guidance := a.registry.UsageGuidance(); guidance != "" {
		b.WriteString("\n\n## Tool usage\n\n")
		b.WriteString(guidance)
	}

	if a.isSubAgent && a.taskPrompt != "" {
		b.WriteString("\n\n## Current task\n\n")
		b.WriteString(a.taskPrompt)
	}

	if reminder := a.contextUsageReminder(); reminder != "" {
		b.WriteString("\n\n")
		b.WriteString(reminder)
	}

	return b.String()
}

// contextUsageReminder returns a context-budget reminder block once usage
// crosses the informational threshold (§6.5 context_thresholds), escalating
// in tone as usage approaches the hard reminder and compaction thresholds.
// It returns "" below the informational threshold so ordinary turns carry
// no such block at all.
func (a *Agent) contextUsageReminder() string {
	fraction := a.ledger.UsageFraction() * 100
	th := a.cfg.ContextThresholds

	switch {
	case fraction >= float64(th.ReminderHard):
		return fmt.Sprintf("Context window usage is at %.0f%%. Wrap up the current task and summarize progress; the conversation will be auto-compacted soon.", fraction)
	case fraction >= float64(th.ReminderSoft):
		return fmt.Sprintf("Context window usage is at %.0f%%. Consider being more concise and avoiding redundant tool calls.", fraction)
	case fraction >= float64(th.Informational):
		return fmt.Sprintf("Context window usage: %.0f%%.", fraction)
	default:
		return ""
	}
}
