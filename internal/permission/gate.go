// Package permission implements the Permission / Trust Gate (§4.4): a
// per-session approval layer in front of tool execution, with a hard
// timeout, ALLOW_ALWAYS memoization, and a safe/destructive tool split.
package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// DefaultTimeout is the default time the gate waits for a decision before
// auto-resolving to DENY.
const DefaultTimeout = 30 * time.Second

// Responder answers a permission request. In an interactive build this is
// backed by the terminal UI; in a headless build it is a policy function.
// The gate also listens for EventPermissionResponse on the activity stream,
// so a Responder is optional — either mechanism may supply the answer.
type Responder func(ctx context.Context, req models.PermissionRequestData) models.PermissionDecision

// Gate is the Permission / Trust Gate. One Gate is shared process-wide (it
// owns the per-session ALLOW_ALWAYS memory).
type Gate struct {
	stream    *activity.Stream
	responder Responder
	timeout   time.Duration

	safeTools       map[string]bool
	destructiveList map[string]bool

	mu       sync.Mutex
	allowed  map[string]bool // fingerprint -> true
	pending  map[string]chan models.PermissionDecision
}

// Config configures a Gate.
type Config struct {
	Timeout         time.Duration
	Responder       Responder
	SafeTools       []string
	DestructiveTools []string
}

// DefaultConfig returns the canonical safe/destructive split named in §4.2:
// read-only inspection tools bypass the gate; everything else may prompt.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		SafeTools: []string{
			"read", "grep", "ls", "web-fetch", "agent-delegate",
		},
		DestructiveTools: []string{"write", "edit", "bash"},
	}
}

// New creates a Gate, subscribing it to EventPermissionResponse on stream.
func New(stream *activity.Stream, cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gate{
		stream:          stream,
		responder:       cfg.Responder,
		timeout:         cfg.Timeout,
		safeTools:       toSet(cfg.SafeTools),
		destructiveList: toSet(cfg.DestructiveTools),
		allowed:         make(map[string]bool),
		pending:         make(map[string]chan models.PermissionDecision),
	}
	if stream != nil {
		stream.Subscribe(models.EventPermissionResponse, g.onResponse)
	}
	return g
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (g *Gate) onResponse(e models.Event) {
	data, ok := e.Data.(models.PermissionResponseData)
	if !ok {
		return
	}
	g.mu.Lock()
	ch, ok := g.pending[data.RequestID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- data.Decision:
	default:
	}
}

// IsSafe reports whether toolName bypasses the gate entirely (read-only
// inspection tools never prompt, per §4.2/§4.4).
func (g *Gate) IsSafe(toolName string) bool {
	return g.safeTools[toolName]
}

// fingerprint computes the session-memoization key {toolName, normalized
// argument fingerprint} described in §4.4. Arguments are marshaled with
// sorted keys via encoding/json's map ordering guarantee, then hashed so the
// memoization key has bounded size regardless of argument payload size.
func fingerprint(toolName string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make(map[string]any, len(args))
	for _, k := range keys {
		normalized[k] = args[k]
	}
	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(append([]byte(toolName+"|"), b...))
	return toolName + ":" + hex.EncodeToString(sum[:8])
}

// Request asks for permission to run toolName with args. Read-only tools
// bypass the gate and return ALLOW_ONCE immediately without memoization.
// Destructive tools are never silently allowed on first call: only a prior
// ALLOW_ALWAYS decision for the same fingerprint bypasses the prompt. A
// decision that never arrives within the gate's timeout resolves to DENY.
func (g *Gate) Request(ctx context.Context, toolName string, args map[string]any, preview string) models.PermissionDecision {
	if g.IsSafe(toolName) {
		return models.DecisionAllowOnce
	}

	fp := fingerprint(toolName, args)

	g.mu.Lock()
	if g.allowed[fp] {
		g.mu.Unlock()
		return models.DecisionAllowAlways
	}
	reqID := uuid.NewString()
	ch := make(chan models.PermissionDecision, 1)
	g.pending[reqID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, reqID)
		g.mu.Unlock()
	}()

	reqData := models.PermissionRequestData{
		RequestID: reqID,
		ToolName:  toolName,
		Arguments: args,
		Preview:   preview,
	}
	if g.stream != nil {
		g.stream.EmitScoped(models.Event{Type: models.EventPermissionRequest, Data: reqData})
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.responder != nil {
		go func() {
			d := g.responder(timeoutCtx, reqData)
			select {
			case ch <- d:
			default:
			}
		}()
	}

	var decision models.PermissionDecision
	select {
	case decision = <-ch:
	case <-timeoutCtx.Done():
		decision = models.DecisionDeny
	}

	if g.stream != nil {
		g.stream.EmitScoped(models.Event{Type: models.EventPermissionResponse, Data: models.PermissionResponseData{
			RequestID: reqID,
			Decision:  decision,
		}})
	}

	// DENY is never remembered; only ALLOW_ALWAYS is memoized.
	if decision == models.DecisionAllowAlways {
		g.mu.Lock()
		g.allowed[fp] = true
		g.mu.Unlock()
	}

	return decision
}

// IsDestructive reports whether toolName is in the never-silently-allowed
// list, for diagnostics and tests; it does not change Request's behavior
// (any non-safe tool already requires a decision on first call).
func (g *Gate) IsDestructive(toolName string) bool {
	return g.destructiveList[toolName]
}
