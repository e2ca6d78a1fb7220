package libroutine

import (
	"context"
	"log"
	"sync"
	"time"
)

// LoopConfig describes a keyed background loop managed by the Group.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// Group owns one breaker and at most one running loop per key. Use
// GetGroup to obtain the process-wide instance.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	triggers map[string]chan struct{}
	active   map[string]bool
}

var (
	groupOnce sync.Once
	group     *Group
)

// GetGroup returns the process-wide loop group.
func GetGroup() *Group {
	groupOnce.Do(func() {
		group = &Group{
			managers: make(map[string]*Routine),
			triggers: make(map[string]chan struct{}),
			active:   make(map[string]bool),
		}
	})
	return group
}

// StartLoop starts a managed loop for cfg.Key unless one is already
// running. Breaker parameters are fixed on first use of a key; later
// calls with different values do not change them.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	manager, ok := g.managers[cfg.Key]
	if !ok {
		manager = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = manager
		g.triggers[cfg.Key] = make(chan struct{}, 1)
	}
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	g.active[cfg.Key] = true
	trigger := g.triggers[cfg.Key]
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			g.mu.Unlock()
		}()
		manager.Loop(ctx, cfg.Interval, trigger, cfg.Operation, func(err error) {
			log.Printf("loop %s: %v", cfg.Key, err)
		})
	}()
}

// IsLoopActive reports whether a loop for key is currently running.
func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}

// GetManager returns the breaker for key, or nil if none exists yet.
func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}

// ForceUpdate signals the loop for key to execute immediately.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger := g.triggers[key]
	g.mu.Unlock()
	if trigger == nil {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}
