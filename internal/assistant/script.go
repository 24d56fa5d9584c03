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

const scriptInstruction = "You write short live-commerce presenter scripts. " +
	"Return a hook to grab attention, up to four product benefits, and a closing offer with a call to action."

var scriptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"hook":     {Type: genai.TypeString},
		"benefits": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"offer":    {Type: genai.TypeString},
	},
}

// ScriptGenerator produces promotional scripts with a JSON-schema constrained model.
type ScriptGenerator struct {
	models contentGenerator
	model  string
	logger *zap.Logger
}

// NewScriptGenerator creates a script generator. Pass client.Models.
func NewScriptGenerator(models *genai.Models, model string, logger *zap.Logger) *ScriptGenerator {
	return &ScriptGenerator{models: models, model: model, logger: logger}
}

// GenerateScript asks the model for a script about the offer described by prompt.
// Transport errors are returned; a malformed reply yields an empty script.
func (g *ScriptGenerator) GenerateScript(ctx context.Context, prompt string) (*models.LiveScript, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		genai.Text(fmt.Sprintf("Live commerce script for: %s", prompt)),
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: scriptInstruction}}},
			ResponseMIMEType:  "application/json",
			ResponseSchema:    scriptSchema,
		})
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}
	script, err := ParseScript(resp.Text())
	if err != nil {
		g.logger.Warn("malformed script reply", zap.Error(err))
		return &models.LiveScript{}, nil
	}
	return script, nil
}

// ParseScript decodes a model reply, tolerating markdown code fences.
func ParseScript(raw string) (*models.LiveScript, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		cleaned = "{}"
	}
	var s models.LiveScript
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if s.Benefits == nil {
		s.Benefits = []string{}
	}
	return &s, nil
}

func cleanJSON(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
