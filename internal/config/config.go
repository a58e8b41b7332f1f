package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/rules"
	"github.com/camuig/autotrader/internal/sizing"
)

type Config struct {
	Broker       BrokerConfig              `yaml:"broker"`
	MarketData   MarketDataConfig          `yaml:"market_data"`
	AI           AIConfig                  `yaml:"ai"`
	Sizing       sizing.Config             `yaml:"sizing"`
	Risk         RiskConfig                `yaml:"risk"`
	Runtime      RuntimeConfig             `yaml:"runtime"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Backtest     BacktestConfig            `yaml:"backtest"`
	Strategies   []domain.DeploymentConfig `yaml:"strategies"`
	Telegram     TelegramConfig            `yaml:"telegram"`
	Web          WebConfig                 `yaml:"web"`
	Storage      StorageConfig             `yaml:"storage"`
	Logging      LoggingConfig             `yaml:"logging"`
}

const (
	BrokerPaper   = "paper"
	BrokerSandbox = "sandbox"
	BrokerLive    = "live"
)

type BrokerConfig struct {
	Mode      string  `yaml:"mode"` // paper, sandbox, live
	Token     string  `yaml:"token"`
	AccountID string  `yaml:"account_id"`
	PaperCash float64 `yaml:"paper_cash"`
	Slippage  float64 `yaml:"slippage"` // paper fills, fraction
}

const (
	ProviderMOEX   = "moex"
	ProviderYahoo  = "yahoo"
	ProviderBroker = "broker"
)

type MarketDataConfig struct {
	Provider          string  `yaml:"provider"`
	DefaultPrice      float64 `yaml:"default_price"` // 0 skips symbols without a price
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	LookbackDays      int     `yaml:"lookback_days"`
}

type AIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheMinutes   int    `yaml:"cache_minutes"` // per-symbol recommendation reuse
}

type RiskConfig struct {
	Defaults domain.RiskLimits `yaml:"defaults"`
}

type OrchestratorConfig struct {
	FillInterval         string `yaml:"fill_interval"`
	ExpireInterval       string `yaml:"expire_interval"`
	PurgeInterval        string `yaml:"purge_interval"`
	HealthInterval       string `yaml:"health_interval"`
	OrderTTL             string `yaml:"order_ttl"`
	Retention            string `yaml:"retention"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors"`
	TradingHoursOnly     bool   `yaml:"trading_hours_only"` // skip ticks outside the MOEX session
}

type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Commission     float64 `yaml:"commission"` // fraction of notional
	Slippage       float64 `yaml:"slippage"`   // fraction of price
	WarmupBars     int     `yaml:"warmup_bars"`
}

type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChatID    int64  `yaml:"chat_id"`
	QueueSize int    `yaml:"queue_size"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads .env (if present), expands ${VAR} references and parses the YAML file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if val := os.Getenv("TINKOFF_TOKEN"); val != "" {
		cfg.Broker.Token = val
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" {
		cfg.AI.APIKey = val
	}
	if val := os.Getenv("TELEGRAM_BOT_TOKEN"); val != "" {
		cfg.Telegram.BotToken = val
	}
	if val := os.Getenv("DATABASE_DSN"); val != "" {
		cfg.Storage.DSN = val
	}
}

func setDefaults(cfg *Config) {
	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = BrokerPaper
	}
	if cfg.Broker.PaperCash == 0 {
		cfg.Broker.PaperCash = 1_000_000
	}
	if cfg.MarketData.Provider == "" {
		cfg.MarketData.Provider = ProviderMOEX
	}
	if cfg.MarketData.RequestsPerMinute == 0 {
		cfg.MarketData.RequestsPerMinute = 120
	}
	if cfg.MarketData.Burst == 0 {
		cfg.MarketData.Burst = 5
	}
	if cfg.MarketData.TimeoutSeconds == 0 {
		cfg.MarketData.TimeoutSeconds = 15
	}
	if cfg.MarketData.LookbackDays == 0 {
		cfg.MarketData.LookbackDays = 120
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "deepseek-chat"
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://api.deepseek.com"
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.CacheMinutes == 0 {
		cfg.AI.CacheMinutes = 30
	}
	if cfg.Risk.Defaults.EmergencyDrawdown == 0 {
		cfg.Risk.Defaults.EmergencyDrawdown = 0.10
	}
	if cfg.Risk.Defaults.MaxPositionPct == 0 {
		cfg.Risk.Defaults.MaxPositionPct = 20
	}
	if cfg.Orchestrator.FillInterval == "" {
		cfg.Orchestrator.FillInterval = "30s"
	}
	if cfg.Orchestrator.ExpireInterval == "" {
		cfg.Orchestrator.ExpireInterval = "5m"
	}
	if cfg.Orchestrator.PurgeInterval == "" {
		cfg.Orchestrator.PurgeInterval = "24h"
	}
	if cfg.Orchestrator.HealthInterval == "" {
		cfg.Orchestrator.HealthInterval = "1m"
	}
	if cfg.Orchestrator.OrderTTL == "" {
		cfg.Orchestrator.OrderTTL = "24h"
	}
	if cfg.Orchestrator.Retention == "" {
		cfg.Orchestrator.Retention = "720h"
	}
	if cfg.Orchestrator.MaxConsecutiveErrors == 0 {
		cfg.Orchestrator.MaxConsecutiveErrors = 5
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 100_000
	}
	if cfg.Backtest.WarmupBars == 0 {
		cfg.Backtest.WarmupBars = 50
	}
	if cfg.Telegram.QueueSize == 0 {
		cfg.Telegram.QueueSize = 100
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "autotrader.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Runtime.MaximumRiskLevel == "" {
		cfg.Runtime.MaximumRiskLevel = RiskHigh
	}

	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		if s.ExecutionFrequency == "" {
			s.ExecutionFrequency = domain.FrequencyHour
		}
		if s.RiskLimits == (domain.RiskLimits{}) {
			s.RiskLimits = cfg.Risk.Defaults
		}
		for j := range s.Rules {
			if s.Rules[j].PortfolioID == "" {
				s.Rules[j].PortfolioID = s.PortfolioID
			}
			if s.Rules[j].StrategyID == "" {
				s.Rules[j].StrategyID = s.StrategyID
			}
		}
	}
}

func (c *Config) Validate() error {
	switch c.Broker.Mode {
	case BrokerPaper:
	case BrokerSandbox, BrokerLive:
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required in %s mode", c.Broker.Mode)
		}
	default:
		return fmt.Errorf("unknown broker.mode %q", c.Broker.Mode)
	}

	switch c.MarketData.Provider {
	case ProviderMOEX, ProviderYahoo:
	case ProviderBroker:
		if c.Broker.Mode == BrokerPaper {
			return fmt.Errorf("market_data.provider broker needs a sandbox or live broker")
		}
	default:
		return fmt.Errorf("unknown market_data.provider %q", c.MarketData.Provider)
	}

	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required when ai is enabled")
	}
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	for name, v := range map[string]string{
		"orchestrator.fill_interval":   c.Orchestrator.FillInterval,
		"orchestrator.expire_interval": c.Orchestrator.ExpireInterval,
		"orchestrator.purge_interval":  c.Orchestrator.PurgeInterval,
		"orchestrator.health_interval": c.Orchestrator.HealthInterval,
		"orchestrator.order_ttl":       c.Orchestrator.OrderTTL,
		"orchestrator.retention":       c.Orchestrator.Retention,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}

	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if err := ValidateDeployment(s); err != nil {
			return fmt.Errorf("strategy %q: %w", s.StrategyID, err)
		}
		if seen[s.StrategyID] {
			return fmt.Errorf("strategy %q declared twice", s.StrategyID)
		}
		seen[s.StrategyID] = true
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ValidateDeployment checks a deployment and its seed rules. It returns a
// *domain.ValidationError listing every problem found.
func ValidateDeployment(d domain.DeploymentConfig) error {
	var reasons []string
	if d.StrategyID == "" {
		reasons = append(reasons, "strategy id is required")
	}
	if d.PortfolioID == "" {
		reasons = append(reasons, "portfolio id is required")
	}
	if len(d.Symbols) == 0 {
		reasons = append(reasons, "at least one symbol is required")
	}
	if _, err := d.ExecutionFrequency.Interval(); err != nil {
		reasons = append(reasons, err.Error())
	}
	if d.RiskLimits.MaxPositionPct < 0 || d.RiskLimits.MaxPositionPct > 100 {
		reasons = append(reasons, "risk_limits.max_position_pct must be within 0..100")
	}
	if d.RiskLimits.MaxDailyLoss < 0 || d.RiskLimits.MaxPositions < 0 {
		reasons = append(reasons, "risk limits must not be negative")
	}
	if d.RiskLimits.EmergencyDrawdown < 0 || d.RiskLimits.EmergencyDrawdown >= 1 {
		reasons = append(reasons, "risk_limits.emergency_drawdown must be a fraction below 1")
	}
	if err := rules.ValidateAll(d.Rules); err != nil {
		reasons = append(reasons, err.(*domain.ValidationError).Reasons...)
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Reasons: reasons}
	}
	return nil
}

func (c *Config) MOEXLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (c *Config) IsSandbox() bool {
	return c.Broker.Mode == BrokerSandbox
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func (c *Config) MarketDataTimeout() time.Duration {
	return time.Duration(c.MarketData.TimeoutSeconds) * time.Second
}

type Sweeps struct {
	Fill      time.Duration
	Expire    time.Duration
	Purge     time.Duration
	Health    time.Duration
	OrderTTL  time.Duration
	Retention time.Duration
}

// Sweeps converts the validated duration strings.
func (o OrchestratorConfig) Sweeps() Sweeps {
	parse := func(v string) time.Duration {
		d, _ := time.ParseDuration(v)
		return d
	}
	return Sweeps{
		Fill:      parse(o.FillInterval),
		Expire:    parse(o.ExpireInterval),
		Purge:     parse(o.PurgeInterval),
		Health:    parse(o.HealthInterval),
		OrderTTL:  parse(o.OrderTTL),
		Retention: parse(o.Retention),
	}
}
