package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/scheduler"
)

// Instance is one deployed strategy. Status fields are guarded by mu; tickMu
// keeps two ticks of the same instance from running at once.
type Instance struct {
	ID         string
	StrategyID string
	Config     domain.DeploymentConfig
	Interval   time.Duration

	tickMu sync.Mutex

	mu         sync.Mutex
	status     domain.InstanceStatus
	perf       domain.Performance
	errorCount int
	lastError  string
	stopReason string
	startedAt  time.Time
	lastTickAt time.Time
	handle     scheduler.Handle
}

func (i *Instance) Snapshot() domain.InstanceSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

func (i *Instance) snapshotLocked() domain.InstanceSnapshot {
	cfg := i.Config
	cfg.Symbols = append([]string(nil), cfg.Symbols...)
	cfg.Rules = nil
	return domain.InstanceSnapshot{
		ID:          i.ID,
		StrategyID:  i.StrategyID,
		Config:      cfg,
		Status:      i.status,
		Performance: i.perf,
		ErrorCount:  i.errorCount,
		LastError:   i.lastError,
		StopReason:  i.stopReason,
		StartedAt:   i.startedAt,
		LastTickAt:  i.lastTickAt,
	}
}

func (i *Instance) Status() domain.InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Instance) transition(next domain.InstanceStatus) error {
	if !i.status.CanTransition(next) {
		return fmt.Errorf("%w: strategy %s %s -> %s", domain.ErrInvalidTransition, i.StrategyID, i.status, next)
	}
	i.status = next
	return nil
}

// clearTimer cancels the tick timer. The caller holds mu.
func (i *Instance) clearTimer() {
	if i.handle != nil {
		i.handle.Cancel()
		i.handle = nil
	}
}

// Registry holds deployed instances keyed by strategy id.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

func (r *Registry) Add(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[inst.StrategyID]; exists {
		return fmt.Errorf("%s: %w", inst.StrategyID, domain.ErrAlreadyDeployed)
	}
	r.instances[inst.StrategyID] = inst
	return nil
}

func (r *Registry) Get(strategyID string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[strategyID]
	if !ok {
		return nil, domain.NotFound("strategy", strategyID)
	}
	return inst, nil
}

func (r *Registry) Remove(strategyID string) {
	r.mu.Lock()
	delete(r.instances, strategyID)
	r.mu.Unlock()
}

// List returns instances ordered by strategy id.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].StrategyID < out[b].StrategyID })
	return out
}

func (r *Registry) ByPortfolio(portfolioID string) []*Instance {
	var out []*Instance
	for _, inst := range r.List() {
		if inst.Config.PortfolioID == portfolioID {
			out = append(out, inst)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
