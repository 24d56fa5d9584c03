package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/markethub/livecommerce/internal/models"
)

// FallbackAdvice is returned when the model has nothing to say.
const FallbackAdvice = "Keep up the great work!"

type channelStats struct {
	Channel string `json:"channel"`
	Live    bool   `json:"live"`
	Viewers int    `json:"viewers"`
	Likes   int    `json:"likes"`
	Sales   string `json:"sales"`
}

// Advisor turns per-destination stats into one short coaching tip.
type Advisor struct {
	models contentGenerator
	model  string
	logger *zap.Logger
}

// NewAdvisor creates an advisor. Pass client.Models.
func NewAdvisor(models *genai.Models, model string, logger *zap.Logger) *Advisor {
	return &Advisor{models: models, model: model, logger: logger}
}

// Advise returns a short tip to lift conversion on the weakest channel. Model
// failures degrade to FallbackAdvice.
func (a *Advisor) Advise(ctx context.Context, dests []models.StreamDestination) (string, error) {
	stats := make([]channelStats, 0, len(dests))
	for _, d := range dests {
		stats = append(stats, channelStats{
			Channel: d.Name,
			Live:    d.IsLive,
			Viewers: d.Stats.Viewers,
			Likes:   d.Stats.Likes,
			Sales:   d.Stats.Sales.StringFixed(2),
		})
	}
	body, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("encode stats: %w", err)
	}
	prompt := fmt.Sprintf("Analyze this multichannel live performance data: %s. "+
		"Give the presenter one short strategic tip to improve conversion on the weakest channel.", body)

	resp, err := a.models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		a.logger.Warn("generate advice failed", zap.Error(err))
		return FallbackAdvice, nil
	}
	tip := strings.TrimSpace(resp.Text())
	if tip == "" {
		return FallbackAdvice, nil
	}
	return tip, nil
}
