package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/tokens"
	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// fakeClient is a scripted llm.Client: each call to Send pops the next
// scripted response (or error) off its queue.
type fakeClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	calls     int
}

func (f *fakeClient) Send(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	var resp *llm.Response
	if idx < len(f.responses) {
		resp = f.responses[idx]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	return resp, err
}
func (f *fakeClient) Stream(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (<-chan llm.Chunk, error) {
	panic("not used in these tests")
}
func (f *fakeClient) Cancel()     {}
func (f *fakeClient) Close() error { return nil }

func newTestAgent(t *testing.T, client llm.Client) *Agent {
	t.Helper()
	registry := tool.NewRegistry()
	gate := permission.New(nil, permission.DefaultConfig())
	stream := activity.New(nil)
	cfg := DefaultConfig()
	cfg.MaxIterations = 5
	return NewAgent(cfg, client, registry, gate, stream, nil, nil, "You are a helpful assistant.")
}

func TestSendMessageHappyPathReturnsFinalText(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "Hello there!", FinishReason: llm.FinishStop},
	}}
	agent := newTestAgent(t, client)

	out, err := agent.SendMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello there!" {
		t.Fatalf("expected final text returned, got %q", out)
	}

	msgs := agent.ledger.Messages()
	if len(msgs) < 3 {
		t.Fatalf("expected at least [system, user, assistant], got %d messages", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Fatalf("expected leading system message, got role %v", msgs[0].Role)
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant || last.Content != "Hello there!" {
		t.Fatalf("expected trailing assistant message with the final text, got %+v", last)
	}
}

func TestSendMessageRegeneratesSystemPromptEveryTurn(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "first", FinishReason: llm.FinishStop},
		{Content: "second", FinishReason: llm.FinishStop},
	}}
	agent := newTestAgent(t, client)

	if _, err := agent.SendMessage(context.Background(), "one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstSystemMsg := agent.ledger.Messages()[0]

	if _, err := agent.SendMessage(context.Background(), "two"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secondSystemMsg := agent.ledger.Messages()[0]

	if firstSystemMsg == secondSystemMsg {
		t.Fatal("expected a freshly built system message object on the second turn, not the same pointer")
	}
	count := 0
	for _, m := range agent.ledger.Messages() {
		if m.Role == models.RoleSystem {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one system message after regeneration, got %d", count)
	}
}

func TestSendMessageEmptyContentRetriesThenFallsBackToCanned(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "", FinishReason: llm.FinishStop},
		{Content: "", FinishReason: llm.FinishStop},
	}}
	agent := newTestAgent(t, client)

	out, err := agent.SendMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != cannedEmptyFallback {
		t.Fatalf("expected canned fallback after a second empty response, got %q", out)
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly 2 LLM calls (retry then fallback), got %d", client.calls)
	}
}

func TestSendMessageRequiredToolsFatalAfterWarningCeiling(t *testing.T) {
	responses := make([]*llm.Response, 0)
	// Every call returns plain text with no tool calls, repeatedly violating
	// the required-tools policy until the warning ceiling is exceeded.
	for i := 0; i < 10; i++ {
		responses = append(responses, &llm.Response{Content: "done, I think", FinishReason: llm.FinishStop})
	}
	client := &fakeClient{responses: responses}
	agent := newTestAgent(t, client)
	agent.cfg.RequiredToolMaxWarnings = 2
	agent.cfg.MaxIterations = 10
	agent.SetRequiredTools([]string{"read"})

	_, err := agent.SendMessage(context.Background(), "read the file please")
	if err == nil {
		t.Fatal("expected a turn-fatal error when required tools are never called")
	}
	var turnErr *Error
	if !errors.As(err, &turnErr) {
		t.Fatalf("expected a *runtime.Error, got %T: %v", err, err)
	}
	if !errors.Is(turnErr.Cause, errRequiredToolsNotMet) {
		t.Fatalf("expected errRequiredToolsNotMet as the cause, got %v", turnErr.Cause)
	}
}

func TestSendMessageRejectsConcurrentCalls(t *testing.T) {
	block := make(chan struct{})
	client := &blockingClient{release: block}
	agent := newTestAgent(t, client)

	done := make(chan struct{})
	go func() {
		_, _ = agent.SendMessage(context.Background(), "first")
		close(done)
	}()

	// Give the first call a moment to set requestInProgress.
	time.Sleep(20 * time.Millisecond)
	_, err := agent.SendMessage(context.Background(), "second")
	if err == nil {
		t.Fatal("expected the second concurrent SendMessage call to be rejected")
	}

	close(block)
	<-done
}

// blockingClient blocks on Send until release is closed, then returns a
// final response, used to create a window where requestInProgress is true.
type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Send(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.Response, error) {
	<-b.release
	return &llm.Response{Content: "done", FinishReason: llm.FinishStop}, nil
}
func (b *blockingClient) Stream(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (<-chan llm.Chunk, error) {
	panic("not used")
}
func (b *blockingClient) Cancel()     {}
func (b *blockingClient) Close() error { return nil }

func TestSendMessageFinishAbortedCancelEndsTurnWithSentinel(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted},
	}}
	agent := newTestAgent(t, client)

	out, err := agent.SendMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != cannedInterruptedFallback {
		t.Fatalf("expected the interrupted sentinel, got %q", out)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly 1 LLM call, got %d", client.calls)
	}
}

// interjectingClient interrupts its own first call with kind "interjection"
// and queues a follow-up user message, simulating a client whose Send
// observed ctx cancellation mid-flight while an interjection was pending.
type interjectingClient struct {
	agent *Agent
	calls int
}

func (c *interjectingClient) Send(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.Response, error) {
	c.calls++
	if c.calls == 1 {
		c.agent.AddUserInterjection("actually, do X instead")
		c.agent.Interrupt("interjection")
		return &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, nil
	}
	return &llm.Response{Content: "ok, doing X", FinishReason: llm.FinishStop}, nil
}
func (c *interjectingClient) Stream(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (<-chan llm.Chunk, error) {
	panic("not used in these tests")
}
func (c *interjectingClient) Cancel()     {}
func (c *interjectingClient) Close() error { return nil }

func TestSendMessageFinishAbortedInterjectionResumesLoop(t *testing.T) {
	client := &interjectingClient{}
	agent := newTestAgent(t, client)
	client.agent = agent

	out, err := agent.SendMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok, doing X" {
		t.Fatalf("expected the loop to resume and return the model's real answer, got %q", out)
	}
	if client.calls != 2 {
		t.Fatalf("expected the loop to resume with a second LLM call, got %d", client.calls)
	}

	var found bool
	for _, m := range agent.ledger.Messages() {
		if m.Role == models.RoleUser && m.Content == "actually, do X instead" {
			found = true
			if !m.Metadata.IsInterjection {
				t.Fatal("expected the queued interjection message to be tagged IsInterjection")
			}
		}
	}
	if !found {
		t.Fatal("expected the queued interjection to be appended as a user message, not discarded")
	}
}

func TestSendMessageSubAgentForcedSummaryAtContextThreshold(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "", ToolCalls: []models.ToolCall{{ID: "1", Name: "read", Arguments: []byte(`{}`)}}, FinishReason: llm.FinishToolCalls},
		{Content: "here is my summary", FinishReason: llm.FinishStop},
	}}
	agent := newTestAgent(t, client)
	agent.isSubAgent = true
	agent.ledger = tokens.New(10, tokens.EstimateTokens)

	out, err := agent.SendMessage(context.Background(), "do a lot of work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "here is my summary" {
		t.Fatalf("expected the forced-summary text to be returned as final, got %q", out)
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly 2 LLM calls (blocked tool call, then summary), got %d", client.calls)
	}
}
