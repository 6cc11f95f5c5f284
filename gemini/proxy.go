package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/ConverseLive/functions"
	"github.com/room4-2/ConverseLive/gateway"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/pcm"
)

const (
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Zephyr"

	inputAudioMIME = "audio/pcm;rate=16000"
)

var ErrProxyClosed = errors.New("proxy is closed or not connected")

// SetupOptions configures the Live session
type SetupOptions struct {
	Model        string
	Voice        string
	SystemPrompt string
	Audio        bool
	Tools        *functions.Registry
}

// Proxy manages one Gemini Live session and implements gateway.Agent
type Proxy struct {
	client  *genai.Client
	session *genai.Session
	tools   *functions.Registry
	logger  *zap.Logger

	// genai.Session does not serialize writes
	sendMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

var _ gateway.Agent = (*Proxy)(nil)

// NewProxy creates the GenAI client; Setup opens the Live session
func NewProxy(ctx context.Context, apiKey string, logger *zap.Logger) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Proxy{
		client: client,
		logger: logging.OrNop(logger),
	}, nil
}

// Setup establishes the Live session
func (gp *Proxy) Setup(ctx context.Context, opts SetupOptions) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return ErrProxyClosed
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemPrompt}},
		},
		Tools: opts.Tools.Tools(),
	}
	if opts.Audio {
		voice := opts.Voice
		if voice == "" {
			voice = DefaultVoice
		}
		config.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		config.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}

	session, err := gp.client.Live.Connect(ctx, model, config)
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}

	gp.session = session
	gp.tools = opts.Tools
	gp.logger.Info("✅ Connected to Gemini Live", zap.String("model", model), zap.Bool("audio", opts.Audio))
	return nil
}

// Start begins listening for Gemini responses
func (gp *Proxy) Start(ctx context.Context, cb gateway.Callbacks) {
	ctx, cancel := context.WithCancel(ctx)
	gp.mu.Lock()
	gp.cancel = cancel
	gp.mu.Unlock()

	go func() {
		defer cancel()
		for {
			session, ok := gp.current()
			if !ok {
				return
			}

			// Receive blocks until a message arrives or the socket closes
			resp, err := session.Receive()
			if err != nil {
				if _, ok := gp.current(); ok {
					gp.logger.Error("❌ Gemini receive error", zap.Error(err))
					if cb.OnError != nil {
						cb.OnError(err)
					}
				}
				return
			}

			gp.handleResponse(ctx, resp, cb)
		}
	}()
}

func (gp *Proxy) current() (*genai.Session, bool) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	if gp.closed || gp.session == nil {
		return nil, false
	}
	return gp.session, true
}

func (gp *Proxy) handleResponse(ctx context.Context, resp *genai.LiveServerMessage, cb gateway.Callbacks) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		gp.handleToolCalls(ctx, resp.ToolCall.FunctionCalls)
	}

	content := resp.ServerContent
	if content == nil {
		return
	}

	// Interrupted precedes any content carried in the same message
	if content.Interrupted && cb.OnInterrupted != nil {
		gp.logger.Debug("📥 Gemini interrupted")
		cb.OnInterrupted()
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" && !part.Thought && cb.OnText != nil {
				cb.OnText(part.Text)
			}
			if part.InlineData != nil && cb.OnAudio != nil {
				cb.OnAudio(pcm.Encode(part.InlineData.Data))
			}
		}
	}

	if t := content.OutputTranscription; t != nil && t.Text != "" && cb.OnText != nil {
		cb.OnText(t.Text)
	}

	if content.TurnComplete && cb.OnTurnComplete != nil {
		gp.logger.Debug("📥 Gemini turn complete")
		cb.OnTurnComplete()
	}
}

// handleToolCalls answers function calls from the registry
func (gp *Proxy) handleToolCalls(ctx context.Context, calls []*genai.FunctionCall) {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, fc := range calls {
		gp.logger.Info("🔧 Function call", zap.String("name", fc.Name), zap.String("id", fc.ID))
		if gp.tools == nil {
			responses = append(responses, &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: map[string]any{"error": fmt.Sprintf("unknown function %q", fc.Name)},
			})
			continue
		}
		responses = append(responses, gp.tools.Call(ctx, fc))
	}

	err := gp.send(func(s *genai.Session) error {
		return s.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	})
	if err != nil {
		gp.logger.Error("❌ Failed to send tool response", zap.Error(err))
	}
}

// SendText sends a complete user turn
func (gp *Proxy) SendText(text string) error {
	turnComplete := true
	err := gp.send(func(s *genai.Session) error {
		return s.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			}},
			TurnComplete: &turnComplete,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// SendAudio forwards 16kHz PCM16 to Gemini
func (gp *Proxy) SendAudio(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	err := gp.send(func(s *genai.Session) error {
		return s.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{MIMEType: inputAudioMIME, Data: data},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (gp *Proxy) send(fn func(*genai.Session) error) error {
	session, ok := gp.current()
	if !ok {
		return ErrProxyClosed
	}
	gp.sendMu.Lock()
	defer gp.sendMu.Unlock()
	return fn(session)
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true

	if gp.cancel != nil {
		gp.cancel()
	}
	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
