package tokens

import (
	"strings"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// CleanupEphemeral runs the end-of-turn ephemeral sweep described in §4.1:
// scan every message; a standalone system/user message whose tags are all
// ephemeral is dropped entirely; a message with mixed ephemeral/persistent
// tags has only its ephemeral tags stripped; a message marked
// Metadata.Ephemeral is always dropped regardless of content. Tool messages
// keep their tag-stripped content even if that leaves them with no tags at
// all (they are never dropped purely for having had tags removed — only
// standalone system/user messages that become ephemeral-only are dropped).
//
// Running this twice in a row produces the same result as running it once:
// a message already stripped of ephemeral tags has none left to strip, and a
// message already dropped is simply absent from the input the second time.
func CleanupEphemeral(msgs []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Metadata.Ephemeral {
			continue
		}
		if !HasReminderTag(m.Content) {
			out = append(out, m)
			continue
		}

		if m.Role == models.RoleSystem || m.Role == models.RoleUser {
			if IsOnlyEphemeral(m.Content) {
				continue
			}
		}

		stripped := strings.TrimRight(StripEphemeralTags(m.Content), "\n \t")
		if stripped == m.Content {
			out = append(out, m)
			continue
		}
		clone := *m
		clone.Content = stripped
		out = append(out, &clone)
	}
	return out
}
