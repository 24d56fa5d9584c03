package assistant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/markethub/livecommerce/config"
	"github.com/markethub/livecommerce/internal/studio"
)

const (
	presenterInstruction = "You are a professional live-commerce presenter. You can see the seller through the camera. " +
		"Be charismatic, describe the products the seller shows and interact with the simulated audience."

	inputAudioMIME = "audio/pcm;rate=16000"
	inputVideoMIME = "image/jpeg"
)

// LiveDialer opens Gemini Live sessions that answer with spoken audio.
type LiveDialer struct {
	live   *genai.Live
	model  string
	voice  string
	logger *zap.Logger
}

// NewLiveDialer creates a dialer on client.Live.
func NewLiveDialer(client *genai.Client, cfg config.GeminiConfig, logger *zap.Logger) *LiveDialer {
	return &LiveDialer{live: client.Live, model: cfg.LiveModel, voice: cfg.Voice, logger: logger}
}

// Dial connects and starts delivering model audio to cb.OnAudio until the bridge is closed.
func (d *LiveDialer) Dial(ctx context.Context, cb studio.AssistantCallbacks) (studio.AssistantSession, error) {
	sess, err := d.live.Connect(ctx, d.model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.voice},
			},
		},
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: presenterInstruction}}},
	})
	if err != nil {
		return nil, fmt.Errorf("connect live assistant: %w", err)
	}
	b := &bridge{sess: sess, cb: cb, logger: d.logger}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go b.receive()
	return b, nil
}

type bridge struct {
	sess   *genai.Session
	cb     studio.AssistantCallbacks
	logger *zap.Logger

	sendMu sync.Mutex
	closed atomic.Bool
}

func (b *bridge) receive() {
	defer func() {
		if b.cb.OnClose != nil {
			b.cb.OnClose()
		}
	}()
	for {
		msg, err := b.sess.Receive()
		if err != nil {
			if !b.closed.Load() && b.cb.OnError != nil {
				b.cb.OnError(err)
			}
			return
		}
		for _, chunk := range audioChunks(msg) {
			if b.cb.OnAudio != nil {
				b.cb.OnAudio(chunk)
			}
		}
	}
}

// audioChunks extracts inline PCM payloads from a server message.
func audioChunks(msg *genai.LiveServerMessage) [][]byte {
	if msg == nil || msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
		return nil
	}
	var out [][]byte
	for _, p := range msg.ServerContent.ModelTurn.Parts {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			out = append(out, p.InlineData.Data)
		}
	}
	return out
}

func (b *bridge) send(data []byte, mime string) error {
	if b.closed.Load() {
		return studio.ErrAssistantNotRunning
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mime},
	})
}

// SendAudio forwards 16kHz mono PCM.
func (b *bridge) SendAudio(pcm []byte) error { return b.send(pcm, inputAudioMIME) }

// SendVideo forwards one JPEG frame.
func (b *bridge) SendVideo(jpeg []byte) error { return b.send(jpeg, inputVideoMIME) }

func (b *bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.sess.Close()
}
