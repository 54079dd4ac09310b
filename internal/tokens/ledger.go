// Package tokens implements the Conversation & Token Manager (§4.5): the
// message store, per-message token caching, content-dedup index, and
// ephemeral/persistent system-reminder discipline, plus auto-compaction.
package tokens

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Tokenizer estimates the token count of a string. Swappable so tests and
// alternate providers can plug in an exact tokenizer; defaults to a cheap
// character-based estimator consistent with the ~4-chars-per-token heuristic
// used elsewhere in the ecosystem for quick context-budget accounting.
type Tokenizer func(text string) int

// EstimateTokens is the default Tokenizer: ~4 characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Ledger owns a Conversation's ordered Message slice, a per-message token
// cache keyed by object identity, and a content-dedup index. It is owned
// exclusively by one Agent.
type Ledger struct {
	mu            sync.Mutex
	messages      []*models.Message
	cache         map[*models.Message]int
	runningTotal  int
	contextBudget int
	tokenizer     Tokenizer

	dedup map[string]string // content hash -> first tool_call_id
}

// New creates an empty Ledger with the given context budget (§6.5
// context_size, default 8192) and tokenizer.
func New(contextBudget int, tokenizer Tokenizer) *Ledger {
	if tokenizer == nil {
		tokenizer = EstimateTokens
	}
	if contextBudget <= 0 {
		contextBudget = 8192
	}
	return &Ledger{
		cache:         make(map[*models.Message]int),
		contextBudget: contextBudget,
		tokenizer:     tokenizer,
		dedup:         make(map[string]string),
	}
}

// Append adds m to the conversation and updates the token ledger in
// amortized O(1): a freshly appended message is a new object, so it can
// never already be present in the identity-keyed cache.
func (l *Ledger) Append(m *models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	count := l.tokenizer(renderForTokenCount(m))
	l.cache[m] = count
	l.runningTotal += count
}

// Messages returns a copy of the conversation slice. The Message values it
// points to are shared with the ledger; treat them as read-only (messages
// themselves are immutable once appended).
func (l *Ledger) Messages() []*models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// SetMessages wholesale-replaces the conversation (used by compaction and
// session restore) and invalidates the token cache, recomputing from
// scratch.
func (l *Ledger) SetMessages(msgs []*models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = msgs
	l.cache = make(map[*models.Message]int, len(msgs))
	l.runningTotal = 0
	for _, m := range msgs {
		count := l.tokenizer(renderForTokenCount(m))
		l.cache[m] = count
		l.runningTotal += count
	}
}

// Total returns the running token total, which by invariant equals the sum
// of cached per-message counts.
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningTotal
}

// Budget returns the configured context budget.
func (l *Ledger) Budget() int {
	return l.contextBudget
}

// UsageFraction returns Total()/Budget() as a fraction in [0, +inf).
func (l *Ledger) UsageFraction() float64 {
	budget := l.Budget()
	if budget <= 0 {
		return 0
	}
	return float64(l.Total()) / float64(budget)
}

func renderForTokenCount(m *models.Message) string {
	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteString(m.Content)
	for _, tc := range m.ToolCalls {
		b.WriteString(tc.Name)
		b.Write(tc.Arguments)
	}
	return b.String()
}

// TrackToolResult implements the content-dedup index (§4.2/§4.5):
// content is hashed with MD5; the first occurrence of a hash registers the
// call id, subsequent identical hashes return that first call id so the
// caller can replace the body with a pointer instead of repeating it.
// Ephemeral results are excluded from the index by the caller (the Ledger
// itself hashes whatever body it is given).
func (l *Ledger) TrackToolResult(callID, toolName, body string) (previous string, duplicate bool) {
	sum := md5.Sum([]byte(toolName + "\x00" + body))
	key := hex.EncodeToString(sum[:])

	l.mu.Lock()
	defer l.mu.Unlock()
	if first, ok := l.dedup[key]; ok {
		return first, true
	}
	l.dedup[key] = callID
	return "", false
}

// systemReminderTag matches a whole <system-reminder ...>...</system-reminder>
// span, capturing whether it carries persist="true".
var systemReminderTag = regexp.MustCompile(`(?s)<system-reminder( persist="true")?>.*?</system-reminder>`)
var persistAttr = regexp.MustCompile(`persist="true"`)

// HasReminderTag is the fast-path pre-check mentioned in §4.1: a substring
// scan that lets CleanupEphemeral skip messages with no tags at all.
func HasReminderTag(content string) bool {
	return strings.Contains(content, "<system-reminder")
}

// StripEphemeralTags removes every non-persistent <system-reminder> span from
// content, preserving persistent ones byte-identical, and trims resulting
// trailing blank lines. It is idempotent: running it twice on its own output
// is a no-op.
func StripEphemeralTags(content string) string {
	if !HasReminderTag(content) {
		return content
	}
	out := systemReminderTag.ReplaceAllStringFunc(content, func(tag string) string {
		if persistAttr.MatchString(tag) {
			return tag
		}
		return ""
	})
	return strings.TrimRight(out, "\n \t") + trailingNewlineOf(content, out)
}

// trailingNewlineOf always returns "", so StripEphemeralTags output never
// ends in a newline or other trailing whitespace.
func trailingNewlineOf(_ string, _ string) string {
	return ""
}

// IsOnlyEphemeral reports whether content consists entirely of ephemeral
// system-reminder tags (and surrounding whitespace), i.e. stripping them
// leaves nothing.
func IsOnlyEphemeral(content string) bool {
	if !HasReminderTag(content) {
		return false
	}
	return strings.TrimSpace(StripEphemeralTags(content)) == ""
}

// InjectReminder appends a system-reminder span to body, formatted exactly
// as the orchestrator's helper in §4.2: "\n\n<system-reminder[ persist="true"]>{text}</system-reminder>".
func InjectReminder(body, text string, persist bool) string {
	tag := "<system-reminder>"
	if persist {
		tag = `<system-reminder persist="true">`
	}
	return body + "\n\n" + tag + text + "</system-reminder>"
}
