package inference

import (
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Estimator prices token usage at a flat per-thousand rate. The figure is an
// estimate for the ledger, not a billing amount.
type Estimator struct {
	Model            string
	PricePerThousand decimal.Decimal
}

func NewEstimator(cfg Config) Estimator {
	return Estimator{
		Model:            cfg.Model,
		PricePerThousand: decimal.NewFromFloat(cfg.PricePerThousand),
	}
}

// Estimate returns (tokens / 1000) * PricePerThousand.
func (e Estimator) Estimate(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(tokens)).Div(thousand).Mul(e.PricePerThousand).InexactFloat64()
}

// UsageCost is the per-call breakdown attached to replies and logs.
type UsageCost struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Usage computes the breakdown for a model reply.
func (e Estimator) Usage(msg *schema.Message) UsageCost {
	uc := UsageCost{Model: e.Model, TotalTokens: TokensUsed(msg)}
	if msg != nil && msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		uc.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		uc.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
	}
	uc.Cost = e.Estimate(uc.TotalTokens)
	return uc
}
