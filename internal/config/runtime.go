package config

import (
	"fmt"
	"sync"

	"github.com/camuig/autotrader/internal/domain"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var riskRank = map[string]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// RiskLevelExceeds reports whether level is above max. Unknown levels never pass.
func RiskLevelExceeds(level, max string) bool {
	l, ok := riskRank[level]
	if !ok {
		return true
	}
	m, ok := riskRank[max]
	if !ok {
		return true
	}
	return l > m
}

// RuntimeConfig holds the switches an operator can flip without a restart.
type RuntimeConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	AutoExecution     bool    `yaml:"auto_execution_enabled" json:"auto_execution_enabled"`
	MinimumConfidence float64 `yaml:"minimum_confidence" json:"minimum_confidence"`
	MaximumRiskLevel  string  `yaml:"maximum_risk_level" json:"maximum_risk_level"`
	MaxOrdersPerDay   int     `yaml:"max_orders_per_day" json:"max_orders_per_day"`
	CooldownMinutes   int     `yaml:"cooldown_minutes" json:"cooldown_minutes"`
}

// Runtime is the mutable, concurrency-safe holder of RuntimeConfig.
type Runtime struct {
	mu  sync.RWMutex
	cfg RuntimeConfig
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.MaximumRiskLevel == "" {
		cfg.MaximumRiskLevel = RiskHigh
	}
	return &Runtime{cfg: cfg}
}

// Snapshot returns a copy; callers read it once per operation.
func (r *Runtime) Snapshot() RuntimeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Runtime) Update(fn func(c *RuntimeConfig)) RuntimeConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.cfg)
	return r.cfg
}

func (c RuntimeConfig) Validate() error {
	var reasons []string
	if c.MinimumConfidence < 0 || c.MinimumConfidence > 100 {
		reasons = append(reasons, "minimum_confidence must be within 0..100")
	}
	if _, ok := riskRank[c.MaximumRiskLevel]; !ok {
		reasons = append(reasons, fmt.Sprintf("unknown maximum_risk_level %q", c.MaximumRiskLevel))
	}
	if c.MaxOrdersPerDay < 0 || c.CooldownMinutes < 0 {
		reasons = append(reasons, "max_orders_per_day and cooldown_minutes must not be negative")
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}
