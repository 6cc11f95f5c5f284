package functions

import (
	"context"
	"math"

	"google.golang.org/genai"

	"github.com/room4-2/ConverseLive/history"
)

const (
	ConversationHistoryName = "GetConversationHistory"

	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// ConversationHistoryFunctionDeclaration returns the declaration for Gemini
func ConversationHistoryFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ConversationHistoryName,
		Description: "Get the most recent messages exchanged with this user in earlier conversations",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"limit": {
					Type:        genai.TypeInteger,
					Description: "How many recent messages to return (default 10, max 50)",
				},
			},
		},
	}
}

// ConversationHistory answers history lookups for one user
func ConversationHistory(store history.Store, userID string) Function {
	return Function{
		Declaration: ConversationHistoryFunctionDeclaration(),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			all, err := store.Page(ctx, userID, 0, 0)
			if err != nil {
				return nil, err
			}

			limit := historyLimit(args)
			if len(all) > limit {
				all = all[len(all)-limit:]
			}

			out := make([]map[string]any, 0, len(all))
			for _, m := range all {
				out = append(out, map[string]any{
					"role":      string(m.Role),
					"text":      m.Text,
					"timestamp": m.Time().UTC().Format("2006-01-02T15:04:05Z"),
				})
			}
			return map[string]any{"messages": out}, nil
		},
	}
}

// historyLimit reads "limit" from decoded JSON args, where numbers arrive as float64
func historyLimit(args map[string]any) int {
	limit := defaultHistoryLimit
	switch v := args["limit"].(type) {
	case float64:
		if !math.IsNaN(v) {
			limit = int(v)
		}
	case int:
		limit = v
	}
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
