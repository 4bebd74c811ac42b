// Package action implements the action gate: a closed registry of named
// actions with a per-name approval requirement. Actions that require approval
// never execute inline; they surface as requested calls and the run suspends.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/concierge-hq/concierge/internal/llm"
	"github.com/concierge-hq/concierge/internal/model"
	"github.com/concierge-hq/concierge/pkg/logger"
	"github.com/concierge-hq/concierge/pkg/metrics"
)

// DefaultTimeout is the maximum time a single action handler can take.
const DefaultTimeout = 30 * time.Second

// HandlerFunc is the signature for action handlers. The returned string is
// the observation text fed back to the model.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Action declares a registered action: name, argument schema, approval
// requirement, and handler. The approval flag is fixed at registration so
// the requirement stays statically auditable.
type Action struct {
	Name             string
	Description      string
	Params           []Param
	RequiresApproval bool
	Handler          HandlerFunc
}

// Gate holds the registered action set and dispatches calls by name.
type Gate struct {
	actions map[string]*Action
	timeout time.Duration
	logger  *logger.Logger
	mu      sync.RWMutex
}

// NewGate creates an empty gate.
func NewGate(log *logger.Logger) *Gate {
	return &Gate{
		actions: make(map[string]*Action),
		timeout: DefaultTimeout,
		logger:  log.Named("gate"),
	}
}

// Register adds an action. Duplicate names are rejected; the registry is a
// closed set, not an open dispatch surface.
func (g *Gate) Register(a Action) error {
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if a.Handler == nil {
		return fmt.Errorf("action %q has no handler", a.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.actions[a.Name]; exists {
		return fmt.Errorf("action %q already registered", a.Name)
	}
	g.actions[a.Name] = &a

	g.logger.Debug("action registered",
		zap.String("name", a.Name),
		zap.Bool("requires_approval", a.RequiresApproval),
	)
	return nil
}

// Specs returns tool declarations for every registered action, for the model.
func (g *Gate) Specs() []llm.ToolSpec {
	g.mu.RLock()
	defer g.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(g.actions))
	for _, a := range g.actions {
		specs = append(specs, llm.ToolSpec{
			Name:        a.Name,
			Description: a.Description,
			Parameters:  paramsSchema(a.Params),
		})
	}
	return specs
}

// RequiresApproval reports the approval flag for a name. Unknown names do
// not require approval; Invoke fails them instead.
func (g *Gate) RequiresApproval(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a, ok := g.actions[name]
	return ok && a.RequiresApproval
}

// ValidateArgs structurally validates arguments against the named action's
// declared schema. Used for human argument overrides before execution.
func (g *Gate) ValidateArgs(name string, args map[string]any) error {
	g.mu.RLock()
	a, ok := g.actions[name]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown action %q", name)
	}
	return validateParams(a.Params, args)
}

// Invoke dispatches one call. Gated actions are left in the requested state
// and suspended=true is returned without touching the handler. Everything
// else executes immediately; handler failures become the call's result text,
// never an error past this boundary.
func (g *Gate) Invoke(ctx context.Context, call *model.ActionCall) (suspended bool) {
	g.mu.RLock()
	a, ok := g.actions[call.Name]
	g.mu.RUnlock()

	if !ok {
		call.State = model.CallStateFailed
		call.Result = fmt.Sprintf("Error: unknown action %q", call.Name)
		metrics.ActionsTotal.WithLabelValues(call.Name, "unknown").Inc()
		g.logger.Warn("unknown action called", zap.String("name", call.Name))
		return false
	}

	call.RequiresApproval = a.RequiresApproval
	if a.RequiresApproval {
		call.State = model.CallStateRequested
		g.logger.Info("action suspended for approval",
			zap.String("name", call.Name),
			zap.String("call_id", call.ID),
		)
		return true
	}

	g.Execute(ctx, call)
	return false
}

// Execute runs the named action's handler and records the terminal state on
// the call. Callers are responsible for having cleared the approval gate:
// the runner calls it for auto actions, the resolver for approved ones.
func (g *Gate) Execute(ctx context.Context, call *model.ActionCall) {
	g.mu.RLock()
	a, ok := g.actions[call.Name]
	g.mu.RUnlock()

	if !ok {
		call.State = model.CallStateFailed
		call.Result = fmt.Sprintf("Error: unknown action %q", call.Name)
		metrics.ActionsTotal.WithLabelValues(call.Name, "unknown").Inc()
		return
	}

	if err := validateParams(a.Params, call.Arguments); err != nil {
		call.State = model.CallStateFailed
		call.Result = fmt.Sprintf("Error: invalid arguments: %v", err)
		metrics.ActionsTotal.WithLabelValues(call.Name, "invalid_args").Inc()
		return
	}

	call.State = model.CallStateExecuting

	execCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	result, err := a.Handler(execCtx, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		call.State = model.CallStateFailed
		call.Result = fmt.Sprintf("Error: %v", err)
		metrics.ActionsTotal.WithLabelValues(call.Name, "failed").Inc()
		g.logger.Warn("action failed",
			zap.String("name", call.Name),
			zap.Error(err),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
		return
	}

	if result == "" {
		result = "OK"
	}
	call.State = model.CallStateCompleted
	call.Result = result
	metrics.ActionsTotal.WithLabelValues(call.Name, "completed").Inc()

	g.logger.Info("action executed",
		zap.String("name", call.Name),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("result_len", len(result)),
	)
}
