package functions

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/ConverseLive/logging"
)

// Handler runs one function call and returns its output object
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Function pairs a declaration with the code that answers it
type Function struct {
	Declaration *genai.FunctionDeclaration
	Handler     Handler
}

// Registry dispatches model function calls by name
type Registry struct {
	funcs  map[string]Function
	order  []string
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		funcs:  make(map[string]Function),
		logger: logging.OrNop(logger),
	}
}

// Register adds or replaces a function
func (r *Registry) Register(fn Function) {
	name := fn.Declaration.Name
	if _, ok := r.funcs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.funcs[name] = fn
}

func (r *Registry) Len() int { return len(r.funcs) }

// Tools returns the declarations wrapped for a Live connect config.
// A registry with no functions yields nil.
func (r *Registry) Tools() []*genai.Tool {
	if r == nil || len(r.order) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.funcs[name].Declaration)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Call answers a function call. Failures are reported to the model in the
// "error" key rather than returned.
func (r *Registry) Call(ctx context.Context, call *genai.FunctionCall) *genai.FunctionResponse {
	resp := &genai.FunctionResponse{ID: call.ID, Name: call.Name}

	fn, ok := r.funcs[call.Name]
	if !ok {
		r.logger.Warn("⚠️ Unknown function call", zap.String("name", call.Name))
		resp.Response = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
		return resp
	}

	out, err := fn.Handler(ctx, call.Args)
	if err != nil {
		r.logger.Warn("⚠️ Function call failed", zap.String("name", call.Name), zap.Error(err))
		resp.Response = map[string]any{"error": err.Error()}
		return resp
	}

	r.logger.Debug("🔧 Function call answered", zap.String("name", call.Name))
	resp.Response = map[string]any{"output": out}
	return resp
}
