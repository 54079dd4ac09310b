package delegation

import (
	"testing"
	"time"
)

type fakeSubAgent struct {
	taskPrompts []string
	cleanedUp   bool
}

func (f *fakeSubAgent) RegenerateSystemPrompt(taskPrompt string) {
	f.taskPrompts = append(f.taskPrompts, taskPrompt)
}
func (f *fakeSubAgent) Cleanup() { f.cleanedUp = true }

func TestPoolKeyIsDeterministicAndOrderIndependentOverTools(t *testing.T) {
	k1 := PoolKey("researcher", "base prompt", []string{"read", "grep"})
	k2 := PoolKey("researcher", "base prompt", []string{"grep", "read"})
	if k1 != k2 {
		t.Fatalf("expected tool-order-independent key, got %q vs %q", k1, k2)
	}

	k3 := PoolKey("researcher", "base prompt", []string{"read"})
	if k1 == k3 {
		t.Fatal("expected a different tool set to yield a different key")
	}

	k4 := PoolKey("researcher", "different base prompt", []string{"read", "grep"})
	if k1 == k4 {
		t.Fatal("expected a different base prompt to yield a different key")
	}
}

func TestAcquireReusesIdleSlotAndIncrementsUseCount(t *testing.T) {
	p := NewPool(Config{MaxSize: 10, SweepInterval: time.Hour, IdleTimeout: time.Hour})
	defer p.Stop()

	key := PoolKey("worker", "base", []string{"read"})
	constructCalls := 0
	construct := func() SubAgent {
		constructCalls++
		return &fakeSubAgent{}
	}

	agent1, release1 := p.Acquire(key, "task one", construct)
	release1()
	agent2, release2 := p.Acquire(key, "task two", construct)
	release2()

	if constructCalls != 1 {
		t.Fatalf("expected construct called exactly once across reuse, got %d", constructCalls)
	}
	if agent1 != agent2 {
		t.Fatal("expected the same underlying agent reused for the same key")
	}
	if p.UseCount(key) != 2 {
		t.Fatalf("expected useCount 2 after reuse, got %d", p.UseCount(key))
	}

	fake := agent2.(*fakeSubAgent)
	if len(fake.taskPrompts) != 2 || fake.taskPrompts[0] != "task one" || fake.taskPrompts[1] != "task two" {
		t.Fatalf("expected system prompt regenerated on every acquisition, got %v", fake.taskPrompts)
	}
}

func TestAcquireEvictsLRUIdleSlotAtCapacity(t *testing.T) {
	p := NewPool(Config{MaxSize: 1, SweepInterval: time.Hour, IdleTimeout: time.Hour})
	defer p.Stop()

	keyA := PoolKey("a", "base", nil)
	keyB := PoolKey("b", "base", nil)

	agentA, releaseA := p.Acquire(keyA, "t", func() SubAgent { return &fakeSubAgent{} })
	releaseA()

	if p.Size() != 1 {
		t.Fatalf("expected pool size 1 before second acquire, got %d", p.Size())
	}

	_, releaseB := p.Acquire(keyB, "t", func() SubAgent { return &fakeSubAgent{} })
	releaseB()

	if p.Size() != 1 {
		t.Fatalf("expected pool size to stay at MaxSize=1 after eviction, got %d", p.Size())
	}
	if !agentA.(*fakeSubAgent).cleanedUp {
		t.Fatal("expected the evicted LRU slot's agent to be cleaned up")
	}
	if p.UseCount(keyA) != 0 {
		t.Fatal("expected the evicted key to no longer be present in the pool")
	}
}

func TestAcquireNeverEvictsAnInUseSlot(t *testing.T) {
	p := NewPool(Config{MaxSize: 1, SweepInterval: time.Hour, IdleTimeout: time.Hour})
	defer p.Stop()

	keyA := PoolKey("a", "base", nil)
	keyB := PoolKey("b", "base", nil)

	agentA, _ := p.Acquire(keyA, "t", func() SubAgent { return &fakeSubAgent{} }) // not released: still in use

	_, releaseB := p.Acquire(keyB, "t", func() SubAgent { return &fakeSubAgent{} })
	releaseB()

	if agentA.(*fakeSubAgent).cleanedUp {
		t.Fatal("expected the in-use slot to survive even though the pool exceeded MaxSize")
	}
	if p.Size() != 2 {
		t.Fatalf("expected the pool to temporarily exceed MaxSize rather than evict an in-use slot, got size %d", p.Size())
	}
}

func TestClearRemovesSlotRegardlessOfIdleState(t *testing.T) {
	p := NewPool(Config{MaxSize: 10, SweepInterval: time.Hour, IdleTimeout: time.Hour})
	defer p.Stop()

	key := PoolKey("a", "base", nil)
	agent, _ := p.Acquire(key, "t", func() SubAgent { return &fakeSubAgent{} })

	p.Clear(key)

	if !agent.(*fakeSubAgent).cleanedUp {
		t.Fatal("expected Clear to clean up the agent")
	}
	if p.Size() != 0 {
		t.Fatalf("expected pool empty after Clear, got size %d", p.Size())
	}
}

func TestSweepEvictsSlotsIdleLongerThanTimeout(t *testing.T) {
	p := NewPool(Config{MaxSize: 10, SweepInterval: time.Hour, IdleTimeout: 10 * time.Millisecond})
	defer p.Stop()

	key := PoolKey("a", "base", nil)
	_, release := p.Acquire(key, "t", func() SubAgent { return &fakeSubAgent{} })
	release()

	time.Sleep(20 * time.Millisecond)
	p.sweepOnce()

	if p.Size() != 0 {
		t.Fatalf("expected the idle-expired slot swept, got size %d", p.Size())
	}
}
