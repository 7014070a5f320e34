package bots

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"zombiequiz/store"

	"golang.org/x/time/rate"
)

// HarnessConfig sizes one load run.
type HarnessConfig struct {
	RoomCode string
	Agents   int
	Seed     int64
	// JoinsPerSecond throttles how fast agents start joining. Zero means
	// no throttle.
	JoinsPerSecond float64
	NamePrefix     string
}

// Harness owns the lifecycle of a fleet of agents: it starts them, fans
// their callbacks into one aggregate view, and propagates a single stop
// signal. Agents see the stop signal at their next suspension point and
// go silent.
type Harness struct {
	cfg     HarnessConfig
	store   store.SessionStore
	cb      Callbacks
	limiter *rate.Limiter

	mu      sync.Mutex
	agents  []*Agent
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// NewHarness builds the whole fleet up front. Each agent draws its
// personality and decisions from its own source seeded off the harness
// seed, so a run is replayable agent by agent.
func NewHarness(st store.SessionStore, cfg HarnessConfig, cb Callbacks) *Harness {
	if cfg.Agents <= 0 {
		cfg.Agents = 1
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "bot"
	}
	var limiter *rate.Limiter
	if cfg.JoinsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.JoinsPerSecond), 1)
	}
	h := &Harness{
		cfg:     cfg,
		store:   st,
		cb:      cb,
		limiter: limiter,
	}
	for i := 0; i < cfg.Agents; i++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
		nickname := fmt.Sprintf("%s-%03d", cfg.NamePrefix, i+1)
		h.agents = append(h.agents, NewAgent(st, cfg.RoomCode, nickname, rng, cb))
	}
	return h
}

// Start launches every agent and returns immediately.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("harness already started")
	}
	h.started = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	agents := h.agents
	h.mu.Unlock()

	for _, agent := range agents {
		h.wg.Add(1)
		go func(a *Agent) {
			defer h.wg.Done()
			if h.limiter != nil {
				if err := h.limiter.Wait(runCtx); err != nil {
					return
				}
			}
			if err := a.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Printf("Harness: agent %s ended with error: %v", a.Nickname, err)
			}
		}(agent)
	}
	return nil
}

// Stop cancels the shared context and waits for every agent to go quiet.
func (h *Harness) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// Wait blocks until all agents reached a terminal state or were stopped.
func (h *Harness) Wait() {
	h.wg.Wait()
}

// Counts reports how many agents sit in each lifecycle state right now.
func (h *Harness) Counts() map[State]int {
	h.mu.Lock()
	agents := h.agents
	h.mu.Unlock()

	counts := make(map[State]int)
	for _, a := range agents {
		counts[a.State()]++
	}
	return counts
}
