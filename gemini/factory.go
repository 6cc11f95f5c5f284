package gemini

import (
	"context"

	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/functions"
	"github.com/room4-2/ConverseLive/gateway"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
)

type FactoryConfig struct {
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string
	// History backs the conversation history tool; nil disables it
	History history.Store
	Logger  *zap.Logger
}

// NewAgentFactory returns a gateway.AgentFactory that opens one Live
// session per gateway session.
func NewAgentFactory(cfg FactoryConfig) gateway.AgentFactory {
	logger := logging.OrNop(cfg.Logger)
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	return func(ctx context.Context, req gateway.AgentRequest) (gateway.Agent, error) {
		log := logger.With(zap.String("session", logging.ShortID(req.SessionID)))

		proxy, err := NewProxy(ctx, cfg.APIKey, log)
		if err != nil {
			return nil, err
		}

		tools := functions.NewRegistry(log)
		if cfg.History != nil {
			tools.Register(functions.ConversationHistory(cfg.History, req.UserID))
		}

		err = proxy.Setup(ctx, SetupOptions{
			Model:        cfg.Model,
			Voice:        cfg.Voice,
			SystemPrompt: prompt,
			Audio:        req.Audio,
			Tools:        tools,
		})
		if err != nil {
			proxy.Close()
			return nil, err
		}
		return proxy, nil
	}
}
