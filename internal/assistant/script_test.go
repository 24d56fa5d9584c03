package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/markethub/livecommerce/internal/models"
)

type fakeModels struct {
	text   string
	err    error
	prompt string
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHook string
		wantLen  int
		wantErr  bool
	}{
		{"plain", `{"hook":"Look!","benefits":["a","b"],"offer":"Now"}`, "Look!", 2, false},
		{"fenced", "```json\n{\"hook\":\"Hi\",\"benefits\":[\"x\"],\"offer\":\"o\"}\n```", "Hi", 1, false},
		{"bare fence", "```{\"hook\":\"Yo\"}```", "Yo", 0, false},
		{"empty", "", "", 0, false},
		{"partial", `{"hook":"cut`, "", 0, true},
		{"not json", "Sorry, I cannot help", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScript(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHook, s.Hook)
			assert.Len(t, s.Benefits, tt.wantLen)
			assert.NotNil(t, s.Benefits)
		})
	}
}

func TestGenerateScript_MalformedReplyIsEmptyScript(t *testing.T) {
	g := &ScriptGenerator{models: &fakeModels{text: "not json"}, model: "m", logger: zap.NewNop()}
	s, err := g.GenerateScript(context.Background(), "Watch")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Empty(t, s.Hook)
}

func TestGenerateScript_TransportError(t *testing.T) {
	g := &ScriptGenerator{models: &fakeModels{err: errors.New("503")}, model: "m", logger: zap.NewNop()}
	s, err := g.GenerateScript(context.Background(), "Watch")
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestGenerateScript_PromptCarriesOffer(t *testing.T) {
	fm := &fakeModels{text: `{"hook":"h","benefits":[],"offer":"o"}`}
	g := &ScriptGenerator{models: fm, model: "m", logger: zap.NewNop()}
	s, err := g.GenerateScript(context.Background(), "Smart Watch - FLASH SALE FOR R$ 99.90. Maximum urgency.")
	require.NoError(t, err)
	assert.Equal(t, "h", s.Hook)
	assert.Contains(t, fm.prompt, "FLASH SALE FOR R$ 99.90")
}

func TestAdvise(t *testing.T) {
	dests := []models.StreamDestination{
		{ID: "yt", Name: "YouTube Live", IsLive: true, Stats: models.DestinationStats{Viewers: 10, Sales: decimal.NewFromInt(20)}},
	}

	fm := &fakeModels{text: "  Pin the product on TikTok.  "}
	a := &Advisor{models: fm, model: "m", logger: zap.NewNop()}
	tip, err := a.Advise(context.Background(), dests)
	require.NoError(t, err)
	assert.Equal(t, "Pin the product on TikTok.", tip)
	assert.Contains(t, fm.prompt, `"channel":"YouTube Live"`)
	assert.Contains(t, fm.prompt, `"sales":"20.00"`)

	a.models = &fakeModels{text: ""}
	tip, err = a.Advise(context.Background(), dests)
	require.NoError(t, err)
	assert.Equal(t, FallbackAdvice, tip)

	a.models = &fakeModels{err: errors.New("quota")}
	tip, err = a.Advise(context.Background(), dests)
	require.NoError(t, err)
	assert.Equal(t, FallbackAdvice, tip)
}

func TestAudioChunks(t *testing.T) {
	assert.Nil(t, audioChunks(nil))
	assert.Nil(t, audioChunks(&genai.LiveServerMessage{}))

	msg := &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
			{Text: "caption"},
			{InlineData: &genai.Blob{Data: []byte{3}}},
		}},
	}}
	assert.Equal(t, [][]byte{{1, 2}, {3}}, audioChunks(msg))
}
