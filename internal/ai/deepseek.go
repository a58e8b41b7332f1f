package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
)

type cached struct {
	rec *domain.Recommendation
	at  time.Time
}

// DeepSeekClient asks an OpenAI-compatible chat model for a recommendation and
// reuses the answer per symbol for the configured cache window.
type DeepSeekClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	ttl     time.Duration
	logger  *logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

func NewDeepSeekClient(cfg config.AIConfig, log *logger.Logger) *DeepSeekClient {
	ocfg := openai.DefaultConfig(cfg.APIKey)
	ocfg.BaseURL = cfg.BaseURL

	return &DeepSeekClient{
		client:  openai.NewClientWithConfig(ocfg),
		model:   cfg.Model,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		ttl:     time.Duration(cfg.CacheMinutes) * time.Minute,
		logger:  log,
		now:     time.Now,
		cache:   make(map[string]cached),
	}
}

func (d *DeepSeekClient) Recommend(ctx context.Context, req *AnalysisRequest) (*domain.Recommendation, error) {
	if rec, ok := d.cached(req.Symbol); ok {
		return rec, nil
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.logger.Info("sending analysis request to DeepSeek", "symbol", req.Symbol)

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deepseek API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	rawResponse := resp.Choices[0].Message.Content
	d.logger.Debug("AI raw response", "symbol", req.Symbol, "content", rawResponse)

	decisions, err := ParseDecisions(rawResponse)
	if err != nil {
		return nil, fmt.Errorf("parse AI response: %w", err)
	}

	rec := pick(decisions, req.Symbol)
	d.mu.Lock()
	d.cache[req.Symbol] = cached{rec: rec, at: d.now()}
	d.mu.Unlock()
	return rec, nil
}

func (d *DeepSeekClient) cached(symbol string) (*domain.Recommendation, bool) {
	if d.ttl <= 0 {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cache[symbol]
	if !ok || d.now().Sub(c.at) >= d.ttl {
		return nil, false
	}
	return c.rec, true
}

// pick converts the decision for symbol, or the only decision when the model
// left the ticker out.
func pick(decisions []AIDecision, symbol string) *domain.Recommendation {
	var chosen *AIDecision
	for i := range decisions {
		if strings.EqualFold(decisions[i].Ticker, symbol) {
			chosen = &decisions[i]
			break
		}
	}
	if chosen == nil && len(decisions) == 1 && decisions[0].Ticker == "" {
		chosen = &decisions[0]
	}
	if chosen == nil {
		return nil
	}

	action := strings.ToLower(strings.TrimSpace(chosen.Action))
	switch action {
	case "buy", "sell", "hold":
	default:
		return nil
	}
	confidence := chosen.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return &domain.Recommendation{
		ID:         uuid.NewString(),
		Type:       action,
		Confidence: confidence,
		Reasoning:  chosen.Reasoning,
	}
}
