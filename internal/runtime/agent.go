// Package runtime implements the Agent Runtime Turn Loop (§4.1): the state
// machine that drives one user turn from submission through LLM streaming,
// tool execution, and completion, plus the delegation hooks (watchdog
// pause/resume, system-prompt regeneration) that let an Agent act as a
// sub-agent inside the Agent Pool.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/delegation"
	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/tokens"
	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// continuationReminder is injected once when the model returns an empty
// assistant turn with no tool_calls, per §4.1's "empty-content" case: the
// loop gives the model one chance to continue before falling back to a
// canned response.
const continuationReminder = "Your previous response had no content. Please continue, or explicitly state that you are finished."

// cannedEmptyFallback is returned to the user if the model returns an empty
// response a second time in the same turn.
const cannedEmptyFallback = "I wasn't able to produce a response for that. Could you rephrase or provide more detail?"

// cannedInterruptedFallback mirrors llm.CannedInterruptedResponse for the
// turn-level (rather than provider-level) interruption path.
const cannedInterruptedFallback = "[Request interrupted by user]"

// interjectionContextSwitchReminder is the one-shot reminder injected when
// the loop resumes after an interrupt(interjection), per §4.1's "the loop
// resumes at step 3 with a one-shot system reminder noting the context
// switch".
const interjectionContextSwitchReminder = "The user interjected with a new message. Take their latest message into account and adjust your approach if needed."

// subAgentForcedSummaryReminder is injected in place of executing a
// sub-agent's tool calls once context usage crosses the ReminderHard
// threshold (§4.5: "specialized sub-agents are forbidden from further tool
// calls and must return summary").
const subAgentForcedSummaryReminder = "Context window usage is critically high for a sub-agent. You may not call any more tools. Summarize your findings and progress so far as your final response."

// Persistence is the outbound collaborator that loads/saves a session's
// messages (§6.3). The runtime treats it as an opaque boundary; a no-op
// implementation is valid for an ephemeral, non-persisted agent.
type Persistence interface {
	Load(ctx context.Context, sessionID string) ([]*models.Message, error)
	Save(ctx context.Context, sessionID string, messages []*models.Message) error
}

// NopPersistence implements Persistence with no-ops.
type NopPersistence struct{}

func (NopPersistence) Load(ctx context.Context, sessionID string) ([]*models.Message, error) {
	return nil, nil
}
func (NopPersistence) Save(ctx context.Context, sessionID string, messages []*models.Message) error {
	return nil
}

// Agent is the Agent Runtime: one instance owns one Conversation & Token
// Manager ledger and drives the turn loop described in §4.1. An Agent may be
// a top-level (main) agent or a sub-agent constructed by the Delegation
// Subsystem; the two differ only in isSubAgent, parentAgentRef, watchdog,
// and allowedTools.
//
// Precondition carried by every method that starts a turn: at most one
// SendMessage call executes on a given Agent instance at a time (§8
// universal invariant). requestInProgress enforces this.
type Agent struct {
	instanceID string
	cfg        Config

	ledger    *tokens.Ledger
	stream    *activity.Stream
	client    llm.Client
	executor  *tool.Executor
	registry  *tool.Registry
	pool      *delegation.Pool
	gate      *permission.Gate
	persist   Persistence
	sessionID string

	basePrompt string // static identity + directives, set once at construction
	taskPrompt string // current delegated task, regenerated per acquisition

	isSubAgent     bool
	parentAgentRef *Agent // direct reference, never looked up by id (§4.3)
	parentCallID   string
	watchdog       *delegation.Watchdog // non-nil only for sub-agents; monitors THIS agent

	allowedTools  map[string]bool // nil means no restriction
	requiredTools []string        // tool names the turn must call before accepting a final text response

	mu                  sync.Mutex
	interrupted         bool
	interruptionType    string // "", "cancel", "interjection"
	requestInProgress   bool
	requiredWarnings    int
	pendingInterjection string
}

// NewAgent constructs a top-level Agent. Sub-agents are constructed by the
// Delegation Subsystem via NewSubAgent instead.
func NewAgent(cfg Config, client llm.Client, registry *tool.Registry, gate *permission.Gate, stream *activity.Stream, pool *delegation.Pool, persist Persistence, basePrompt string) *Agent {
	cfg = sanitizeConfig(cfg)
	if stream == nil {
		stream = activity.New(cfg.Logger)
	}
	if persist == nil {
		persist = NopPersistence{}
	}
	ledger := tokens.New(cfg.ContextSize, tokens.EstimateTokens)
	executor := tool.NewExecutor(tool.DefaultExecutorConfig(), registry, gate, ledger, stream)

	return &Agent{
		instanceID: uuid.NewString(),
		cfg:        cfg,
		ledger:     ledger,
		stream:     stream,
		client:     client,
		executor:   executor,
		registry:   registry,
		pool:       pool,
		gate:       gate,
		persist:    persist,
		basePrompt: basePrompt,
	}
}

// NewSubAgent constructs a sub-agent scoped to a parent, sharing the
// parent's LLM client (never closed by the sub-agent, §4.3/§5), registry,
// and gate, but owning its own ledger, scoped activity stream, and
// watchdog. It satisfies delegation.SubAgent.
func NewSubAgent(cfg Config, parent *Agent, allowedTools map[string]bool, basePrompt string) *Agent {
	cfg = sanitizeConfig(cfg)
	scoped := parent.stream.CreateScoped(parent.instanceID)
	ledger := tokens.New(cfg.ContextSize, tokens.EstimateTokens)
	executor := tool.NewExecutor(tool.DefaultExecutorConfig(), parent.registry, parent.gate, ledger, scoped)

	a := &Agent{
		instanceID:     uuid.NewString(),
		cfg:            cfg,
		ledger:         ledger,
		stream:         scoped,
		client:         parent.client,
		executor:       executor,
		registry:       parent.registry,
		pool:           parent.pool,
		gate:           parent.gate,
		persist:        NopPersistence{},
		basePrompt:     basePrompt,
		isSubAgent:     true,
		parentAgentRef: parent,
		allowedTools:   allowedTools,
	}
	a.watchdog = delegation.NewWatchdog(cfg.ActivityTimeout, a.onWatchdogTimeout)
	return a
}

func (a *Agent) onWatchdogTimeout() {
	a.mu.Lock()
	a.interrupted = true
	a.interruptionType = "cancel"
	a.mu.Unlock()
	a.client.Cancel()
	a.cfg.Logger.Warn("sub-agent watchdog fired: no activity within threshold", "agent", a.instanceID)
}

// RegenerateSystemPrompt recomputes the effective task prompt for this
// agent. Called on every pool acquisition, whether the slot is newly built
// or reused (§3: "the per-turn systemPrompt is regenerated" makes same-key
// reuse across different tasks safe).
func (a *Agent) RegenerateSystemPrompt(taskPrompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taskPrompt = taskPrompt
}

// Cleanup stops this agent's watchdog and clears its scoped stream's
// listeners. It must never close the shared LLM client (§4.3 Release).
func (a *Agent) Cleanup() {
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	a.stream.Cleanup()
}

// PauseWatchdog pauses THIS agent's own watchdog. Called by a child
// sub-agent holding a. as its parentAgentRef, for the duration of the
// child's own LLM+tool work (§4.3): the parent is legitimately idle while
// waiting on the child, so the parent must not be timed out for it.
func (a *Agent) PauseWatchdog() {
	if a.watchdog != nil {
		a.watchdog.Pause()
	}
}

// ResumeWatchdog is the symmetric counterpart to PauseWatchdog, called by
// the child when its own work completes.
func (a *Agent) ResumeWatchdog() {
	if a.watchdog != nil {
		a.watchdog.Resume()
	}
}

// Interrupt delivers an interrupt signal to the agent's in-flight turn.
// Both kinds cancel the in-flight LLM request. Kind "cancel" ends the turn
// with the interrupted sentinel response; an assistant message already
// appended in the interrupted iteration is kept and marked Partial. Kind
// "interjection" resumes the loop with a follow-up user message queued via
// AddUserInterjection (§4.1).
func (a *Agent) Interrupt(kind string) {
	a.mu.Lock()
	a.interrupted = true
	a.interruptionType = kind
	a.mu.Unlock()
	a.client.Cancel()
	a.stream.EmitScoped(models.Event{Type: models.EventUserInterruptInitiate, Data: map[string]string{"kind": kind}})
}

// AddUserInterjection queues text to be appended as the next user message
// once the turn loop observes the pending interjection interrupt, per
// §4.1's interrupt(interjection) flow.
func (a *Agent) AddUserInterjection(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingInterjection = text
}

func (a *Agent) checkInterrupted() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupted, a.interruptionType
}

// SendMessage runs one full turn of the loop described in §4.1: append the
// user message, repeatedly call the LLM and execute any requested tools
// until the model produces a final text response (or a turn-fatal
// condition occurs), then run the end-of-turn ephemeral cleanup pass.
//
// Precondition: no other SendMessage call is in progress on this Agent.
func (a *Agent) SendMessage(ctx context.Context, userText string) (string, error) {
	a.mu.Lock()
	if a.requestInProgress {
		a.mu.Unlock()
		return "", fmt.Errorf("runtime: SendMessage already in progress on this agent instance")
	}
	a.requestInProgress = true
	a.interrupted = false
	a.interruptionType = ""
	a.requiredWarnings = 0
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.requestInProgress = false
		a.mu.Unlock()
		a.ledger.SetMessages(tokens.CleanupEphemeral(a.ledger.Messages()))
		if a.isSubAgent && a.parentAgentRef != nil {
			a.parentAgentRef.ResumeWatchdog()
		}
	}()

	if a.isSubAgent && a.parentAgentRef != nil {
		a.parentAgentRef.PauseWatchdog()
	}

	a.regenerateSystemPromptMessage()
	a.ledger.Append(&models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: time.Now(),
	})

	a.stream.EmitScoped(models.Event{Type: models.EventAgentStart, Data: map[string]string{"agent": a.instanceID}})
	defer a.stream.EmitScoped(models.Event{Type: models.EventAgentEnd, Data: map[string]string{"agent": a.instanceID}})

	emptyRetried := false
	calledTools := make(map[string]bool)

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		if interrupted, kind := a.checkInterrupted(); interrupted {
			result, terminal, ierr := a.handleInterruption(kind)
			if terminal {
				return result, ierr
			}
			continue
		}

		if err := a.maybeCompact(ctx); err != nil {
			a.cfg.Logger.Warn("auto-compaction failed, proceeding best-effort", "error", err)
		}

		if a.watchdog != nil {
			a.watchdog.Kick()
		}

		resp, err := a.client.Send(ctx, a.ledger.Messages(), a.llmTools(), llm.Options{})
		if err != nil {
			return "", &Error{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		if resp.FinishReason == llm.FinishAborted {
			_, kind := a.checkInterrupted()
			if kind == "" {
				kind = "cancel"
			}
			result, terminal, ierr := a.handleInterruption(kind)
			if terminal {
				return result, ierr
			}
			continue
		}

		if len(resp.ToolCalls) > 0 && a.isSubAgent && a.ledger.UsageFraction()*100 >= float64(a.cfg.ContextThresholds.ReminderHard) {
			a.ledger.Append(&models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleUser,
				Content:   tokens.InjectReminder("", subAgentForcedSummaryReminder, false),
				Metadata:  models.Metadata{Ephemeral: true},
				CreatedAt: time.Now(),
			})
			continue
		}

		if len(resp.ToolCalls) > 0 {
			assistantMsg := &models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
				CreatedAt: time.Now(),
			}
			a.ledger.Append(assistantMsg)

			if interrupted, kind := a.checkInterrupted(); interrupted {
				assistantMsg.Metadata.Partial = true
				result, terminal, ierr := a.handleInterruption(kind)
				if terminal {
					return result, ierr
				}
				continue
			}

			results := a.executor.ExecuteAll(ctx, resp.ToolCalls)
			for _, m := range results {
				a.ledger.Append(m)
			}
			for _, c := range resp.ToolCalls {
				calledTools[c.Name] = true
			}
			continue
		}

		if resp.Content == "" {
			if !emptyRetried {
				emptyRetried = true
				a.ledger.Append(&models.Message{
					ID:        uuid.NewString(),
					Role:      models.RoleUser,
					Content:   tokens.InjectReminder("", continuationReminder, false),
					Metadata:  models.Metadata{Ephemeral: true},
					CreatedAt: time.Now(),
				})
				continue
			}
			a.ledger.Append(&models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   cannedEmptyFallback,
				CreatedAt: time.Now(),
			})
			return cannedEmptyFallback, nil
		}

		// Text present, no tool calls: enforce the required-tools policy
		// (§4.1) before accepting this as the turn's final response.
		if missing := a.missingRequiredTools(calledTools); len(missing) > 0 {
			a.requiredWarnings++
			if a.requiredWarnings > a.cfg.RequiredToolMaxWarnings {
				return "", &Error{Phase: PhaseComplete, Iteration: iteration, Cause: errRequiredToolsNotMet}
			}
			a.ledger.Append(&models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleUser,
				Content:   tokens.InjectReminder("", requiredToolsReminder(missing), false),
				Metadata:  models.Metadata{Ephemeral: true},
				CreatedAt: time.Now(),
			})
			continue
		}

		a.ledger.Append(&models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			CreatedAt: time.Now(),
		})
		return resp.Content, nil
	}

	return "", &Error{Phase: PhaseComplete, Iteration: a.cfg.MaxIterations, Message: "max iterations reached without a final response"}
}

// SetRequiredTools declares the set of tool names this turn must call at
// least once before a text-only response is accepted as final (§4.1
// "Required-tools policy"). Pass nil to clear the policy. Must be called
// before SendMessage; the policy applies to exactly one turn's warning
// ceiling (requiredWarnings resets at the top of every SendMessage call).
func (a *Agent) SetRequiredTools(names []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requiredTools = names
}

// missingRequiredTools returns the subset of the turn's required tools not
// present in calledTools, in declared order.
func (a *Agent) missingRequiredTools(calledTools map[string]bool) []string {
	a.mu.Lock()
	required := a.requiredTools
	a.mu.Unlock()
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, name := range required {
		if !calledTools[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func requiredToolsReminder(missing []string) string {
	joined := missing[0]
	for _, m := range missing[1:] {
		joined += ", " + m
	}
	return "You have not yet called the following required tool(s): " + joined + ". Please call them before finishing this turn."
}

// handleInterruption reacts to an observed interrupt signal (§4.1
// "Interruption & interjection"). For kind "cancel" it ends the turn with
// the sentinel response (terminal=true). For kind "interjection" it clears
// the interrupted flag, appends the queued interjection as a new user
// message plus a one-shot context-switch reminder, and reports
// terminal=false so the caller resumes the loop at step 3 rather than
// ending the turn.
func (a *Agent) handleInterruption(kind string) (result string, terminal bool, err error) {
	a.mu.Lock()
	a.interrupted = false
	a.interruptionType = ""
	a.mu.Unlock()

	if kind == "interjection" {
		a.mu.Lock()
		pending := a.pendingInterjection
		a.pendingInterjection = ""
		a.mu.Unlock()
		if pending != "" {
			a.ledger.Append(&models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleUser,
				Content:   pending,
				Metadata:  models.Metadata{IsInterjection: true},
				CreatedAt: time.Now(),
			})
		}
		a.ledger.Append(&models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleUser,
			Content:   tokens.InjectReminder("", interjectionContextSwitchReminder, false),
			Metadata:  models.Metadata{Ephemeral: true},
			CreatedAt: time.Now(),
		})
		return "", false, nil
	}

	a.ledger.Append(&models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   cannedInterruptedFallback,
		CreatedAt: time.Now(),
	})
	return cannedInterruptedFallback, true, nil
}

func (a *Agent) maybeCompact(ctx context.Context) error {
	if a.isSubAgent {
		return nil
	}
	fraction := a.ledger.UsageFraction() * 100
	if fraction < float64(a.cfg.ContextThresholds.Compact) {
		return nil
	}
	summarizer := func(ctx context.Context, text string) (string, error) {
		resp, err := a.client.Send(ctx, []*models.Message{{
			Role:    models.RoleUser,
			Content: "Summarize the following conversation excerpt concisely, preserving any facts, decisions, and file paths mentioned:\n\n" + text,
		}}, nil, llm.Options{})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	compacted, err := tokens.Compact(ctx, a.ledger.Messages(), summarizer)
	a.ledger.SetMessages(compacted)
	return err
}

func (a *Agent) llmTools() []llm.ToolDefinition {
	return a.registry.AsLLMTools(a.allowedTools)
}

// regenerateSystemPromptMessage implements step 2's "regenerate the system
// prompt" on every turn: it replaces the leading system message's content
// with a freshly assembled prompt (new context-usage reading, current task
// prompt for sub-agents), inserting one if none exists yet. Messages are
// treated as immutable once appended, so this builds a new message object
// rather than mutating the existing one in place.
func (a *Agent) regenerateSystemPromptMessage() {
	existing := a.ledger.Messages()
	fresh := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   a.assembleSystemPrompt(),
		CreatedAt: time.Now(),
	}
	if len(existing) > 0 && existing[0].Role == models.RoleSystem {
		existing[0] = fresh
		a.ledger.SetMessages(existing)
		return
	}
	a.ledger.SetMessages(append([]*models.Message{fresh}, existing...))
}
