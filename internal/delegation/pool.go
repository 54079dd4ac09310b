// Package delegation implements the Delegation Subsystem and Agent Pool
// (§4.3): sub-agent acquisition/release keyed by a deterministic pool key,
// LRU idle eviction, a periodic idle sweeper, and parent/child activity
// watchdog pause-resume.
package delegation

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// SubAgent is the minimal surface the pool needs from a sub-agent instance.
// internal/runtime's Agent type satisfies this interface; the pool package
// never imports internal/runtime, avoiding an import cycle (runtime imports
// delegation, not the reverse) — the same parent-by-reference idea in §4.3
// applies to the pool's own dependency direction.
type SubAgent interface {
	// RegenerateSystemPrompt recomputes the system prompt from the agent's
	// stored base prompt plus a new task prompt (§3 "Same-key-different-task
	// reuse is safe because the per-turn systemPrompt is regenerated").
	RegenerateSystemPrompt(taskPrompt string)
	// Cleanup stops the watchdog and releases listeners. It must NOT close
	// the shared LLM client (§4.3 Release).
	Cleanup()
}

// Slot is one pool entry.
type Slot struct {
	Agent          SubAgent
	Key            string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	UseCount       int
	InUse          bool
}

// Config configures a Pool.
type Config struct {
	MaxSize         int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns the §6.5 canonical defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:       10,
		IdleTimeout:   300 * time.Second,
		SweepInterval: 60 * time.Second,
		Logger:        slog.Default(),
	}
}

func sanitize(cfg Config) Config {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Pool is the process-wide Agent Pool (§3/§5), mutex-protected.
type Pool struct {
	cfg   Config
	mu    sync.Mutex
	slots map[string]*Slot

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a Pool and starts its idle sweeper goroutine.
func NewPool(cfg Config) *Pool {
	cfg = sanitize(cfg)
	p := &Pool{cfg: cfg, slots: make(map[string]*Slot), stopCh: make(chan struct{})}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// PoolKey computes the deterministic fingerprint from §3: same {name,
// basePrompt, tools[]} always yields the same key; a different tool set
// always yields a different key, which prevents a silent tool-restriction
// violation on reuse.
func PoolKey(name, basePrompt string, toolNames []string) string {
	sorted := append([]string(nil), toolNames...)
	sort.Strings(sorted)

	promptSum := sha256.Sum256([]byte(basePrompt))
	toolsSum := sha256.Sum256([]byte(strings.Join(sorted, ",")))

	return "agent-" + name + "@" + hex.EncodeToString(promptSum[:8]) + "@" + hex.EncodeToString(toolsSum[:8])
}

// Acquire returns an idle slot for key if one exists; otherwise it calls
// construct to build a new sub-agent, inserting it into the pool (evicting
// the least-recently-used idle slot if at capacity). The returned release
// func must be called exactly once when the caller is done with the agent.
func (p *Pool) Acquire(key, taskPrompt string, construct func() SubAgent) (SubAgent, func()) {
	p.mu.Lock()
	if slot, ok := p.slots[key]; ok && !slot.InUse {
		slot.InUse = true
		slot.LastAccessedAt = time.Now()
		slot.UseCount++
		p.mu.Unlock()
		slot.Agent.RegenerateSystemPrompt(taskPrompt)
		return slot.Agent, p.releaseFunc(key)
	}
	p.mu.Unlock()

	agent := construct()
	agent.RegenerateSystemPrompt(taskPrompt)

	p.mu.Lock()
	if len(p.slots) >= p.cfg.MaxSize {
		p.evictLRULocked()
	}
	p.slots[key] = &Slot{
		Agent:          agent,
		Key:            key,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
		UseCount:       1,
		InUse:          true,
	}
	p.mu.Unlock()

	return agent, p.releaseFunc(key)
}

func (p *Pool) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if slot, ok := p.slots[key]; ok {
				slot.InUse = false
				slot.LastAccessedAt = time.Now()
			}
		})
	}
}

// evictLRULocked removes the least-recently-accessed idle slot. Callers must
// hold p.mu. If every slot is in use, it does nothing (the pool may briefly
// exceed MaxSize rather than evict a slot a caller is actively using).
func (p *Pool) evictLRULocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, s := range p.slots {
		if s.InUse {
			continue
		}
		if oldestKey == "" || s.LastAccessedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = s.LastAccessedAt
		}
	}
	if oldestKey != "" {
		p.slots[oldestKey].Agent.Cleanup()
		delete(p.slots, oldestKey)
	}
}

// Clear removes and cleans up a specific slot by key, regardless of idle
// state (explicit clear(id) from §4.3).
func (p *Pool) Clear(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[key]; ok {
		slot.Agent.Cleanup()
		delete(p.slots, key)
	}
}

// ClearAll removes and cleans up every slot.
func (p *Pool) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, slot := range p.slots {
		slot.Agent.Cleanup()
		delete(p.slots, k)
	}
}

// Size returns the current number of pool slots (in use or idle).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// UseCount returns the use count of the slot for key, for tests (§8 scenario
// 6: "The useCount on the slot becomes 2").
func (p *Pool) UseCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[key]; ok {
		return slot.UseCount
	}
	return 0
}

// sweepLoop runs the idle sweeper: every SweepInterval, evict any slot with
// !InUse && now-LastAccessedAt > IdleTimeout. Sweeper and acquire/release
// share the pool mutex (§4.3).
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) sweepOnce() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.slots {
		if !s.InUse && now.Sub(s.LastAccessedAt) > p.cfg.IdleTimeout {
			s.Agent.Cleanup()
			delete(p.slots, k)
		}
	}
}

// Stop halts the idle sweeper. It does not clean up existing slots.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
