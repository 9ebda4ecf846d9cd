package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	agentcontext "github.com/nickmurray47/goose/internal/agent/context"
	"github.com/nickmurray47/goose/internal/agent/permission"
	"github.com/nickmurray47/goose/internal/agent/routing"
	"github.com/nickmurray47/goose/internal/extensions"
	"github.com/nickmurray47/goose/internal/security"
	"github.com/nickmurray47/goose/pkg/models"
)

// State is the controller's position in the turn state machine.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingModel     State = "awaiting_model"
	StateResponding        State = "responding"
	StatePermissionPending State = "permission_pending"
	StateExecuting         State = "executing"
	StateAccounting        State = "accounting"
	StateCompleted         State = "completed"
	StateTurnLimit         State = "turn_limit_reached"
	StateCancelled         State = "cancelled"
	StateFatal             State = "fatal"
)

// Persister saves session state after each committed turn.
type Persister interface {
	Save(ctx context.Context, sess *models.Session) error
}

// Options assembles a controller. Session, Providers and Router are
// required; everything else has a working default.
type Options struct {
	Session   *models.Session
	Providers *ProviderSet
	Router    *routing.Router

	Registry   *extensions.Registry
	Dispatcher *extensions.Dispatcher
	Context    *agentcontext.Manager
	Scanner    *security.Scanner
	Persister  Persister
	Sink       EventSink
	Logger     *slog.Logger

	// Asker resolves permission prompts. Nil denies every prompt.
	Asker permission.Asker

	// MaxTurns bounds model turns for one Run.
	// Default: 1000
	MaxTurns int

	// RiskThreshold is the scanner score that escalates the gate.
	// Default: 0.7
	RiskThreshold float64
}

// Controller drives one session. A controller is not reentrant: only one
// Run may be active at a time.
type Controller struct {
	session    *models.Session
	providers  *ProviderSet
	router     *routing.Router
	registry   *extensions.Registry
	dispatcher *extensions.Dispatcher
	contextMgr *agentcontext.Manager
	scanner    *security.Scanner
	persister  Persister
	emitter    *EventEmitter
	gate       *permission.Gate
	logger     *slog.Logger

	maxTurns      int
	riskThreshold float64

	// taint is the high-water scanner score of tool results seen so
	// far. A poisoned result raises the floor for every later call, so
	// the gate keeps asking even in auto mode. Only touched from the
	// Run goroutine.
	taint float64

	mu    sync.Mutex
	state State
}

// NewController validates options and assembles a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("controller: session is required")
	}
	if err := opts.Session.Validate(); err != nil {
		return nil, err
	}
	if opts.Providers == nil {
		return nil, fmt.Errorf("controller: providers are required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("controller: router is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = extensions.NewRegistry(opts.Logger)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = extensions.NewDispatcher(opts.Registry, extensions.DispatcherConfig{}, opts.Logger)
	}
	if opts.Context == nil {
		opts.Context = agentcontext.NewManager(agentcontext.ManagerConfig{}, nil, nil, opts.Logger)
	}
	if opts.Scanner == nil {
		opts.Scanner = security.NewScanner(false)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 1000
	}
	if opts.RiskThreshold <= 0 {
		opts.RiskThreshold = 0.7
	}

	c := &Controller{
		session:       opts.Session,
		providers:     opts.Providers,
		router:        opts.Router,
		registry:      opts.Registry,
		dispatcher:    opts.Dispatcher,
		contextMgr:    opts.Context,
		scanner:       opts.Scanner,
		persister:     opts.Persister,
		emitter:       NewEventEmitter(opts.Session.ID, opts.Sink),
		logger:        opts.Logger.With("component", "controller", "session_id", opts.Session.ID),
		maxTurns:      opts.MaxTurns,
		riskThreshold: opts.RiskThreshold,
		state:         StateIdle,
	}
	c.gate = permission.NewGate(opts.Session.Mode, opts.RiskThreshold, c.emittingAsker(opts.Asker))
	return c, nil
}

// emittingAsker surfaces gate suspensions and their resolutions on the
// event stream around the real asker.
func (c *Controller) emittingAsker(inner permission.Asker) permission.Asker {
	if inner == nil {
		inner = permission.DenyAll
	}
	return permission.AskerFunc(func(ctx context.Context, req permission.Request, sig string) (models.PermissionDecision, error) {
		c.setState(StatePermissionPending)
		c.emitter.PermissionNeeded(req.Call, sig)
		decision, err := inner.Ask(ctx, req, sig)
		if err == nil {
			c.emitter.PermissionResolved(req.Call, decision)
		}
		return decision, err
	})
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Session returns the controller's session.
func (c *Controller) Session() *models.Session {
	return c.session
}

// Run drives one user input to a terminal state. Committed turns survive
// every outcome except Fatal's in-progress turn, which is discarded.
func (c *Controller) Run(ctx context.Context, input string) (models.EndReason, error) {
	pending := []models.Message{{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   input,
		CreatedAt: time.Now().UTC(),
	}}

	modelTurns := c.committedModelTurns()
	turnsUsed := 0

	for {
		if turnsUsed >= c.maxTurns {
			c.setState(StateTurnLimit)
			c.emitter.SessionEnded(models.EndTurnLimit,
				fmt.Sprintf("stopped after %d turns", turnsUsed))
			return models.EndTurnLimit, ErrTurnLimit
		}
		if ctx.Err() != nil {
			return c.endCancelled(ctx)
		}

		binding, role, err := c.router.ForTurn(modelTurns)
		if err != nil {
			return c.endFatal(err)
		}
		window := c.providers.Window(binding.Provider, binding.Model)

		// Compaction happens between turns, never mid-turn. A failed
		// compaction is reported and the run carries the full history.
		if event, err := c.contextMgr.MaybeCompact(ctx, c.session, window); err != nil {
			c.emitter.Error(err, false)
		} else if event != nil {
			c.emitter.Compaction(*event)
			c.persist(ctx)
		}

		turnIndex := len(c.session.Turns)
		c.emitter.TurnStarted(turnIndex)
		turnsUsed++

		snap := c.registry.Snapshot()

		c.setState(StateAwaitingModel)
		c.logger.Debug("model call", "role", role, "provider", binding.Provider, "model", binding.Model)
		out, err := c.streamCompletion(ctx, binding, snap, pending)
		if err != nil {
			if ctx.Err() != nil {
				return c.endCancelled(ctx)
			}
			return c.endFatal(err)
		}

		c.setState(StateResponding)
		now := time.Now().UTC()
		assistant := models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   out.text,
			ToolCalls: out.calls,
			CreatedAt: now,
		}

		if len(out.calls) == 0 {
			c.setState(StateAccounting)
			c.commitTurn(ctx, append(pending, assistant), out.usage)
			c.emitter.TurnCompleted(turnIndex, binding.Provider, binding.Model, out.usage)
			c.setState(StateCompleted)
			c.emitter.SessionEnded(models.EndCompleted, "")
			return models.EndCompleted, nil
		}

		for _, call := range out.calls {
			c.emitter.ToolRequested(call)
		}

		results, cancelled := c.resolveCalls(ctx, snap, out.calls)
		toolMsg := models.Message{
			ID:          uuid.NewString(),
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now().UTC(),
		}

		c.setState(StateAccounting)
		c.commitTurn(ctx, append(pending, assistant, toolMsg), out.usage)
		c.emitter.TurnCompleted(turnIndex, binding.Provider, binding.Model, out.usage)

		if cancelled {
			c.setState(StateCancelled)
			c.emitter.SessionEnded(models.EndCancelled, "")
			return models.EndCancelled, context.Canceled
		}

		pending = nil
		modelTurns++
	}
}

// resolveCalls gates and executes a turn's tool calls, returning one
// result per call in call order. The second return is true when the run
// was cancelled part way; unexecuted calls are resolved Cancelled so the
// committed turn still pairs every call with a result.
func (c *Controller) resolveCalls(ctx context.Context, snap *extensions.Snapshot, calls []models.ToolCall) ([]models.ToolResult, bool) {
	results := make([]models.ToolResult, len(calls))
	var allowed []models.ToolCall
	var allowedIdx []int
	cancelled := false

	for i, call := range calls {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			results[i] = cancelledResult(call.ID)
			c.emitter.ToolResult(call, results[i])
			continue
		}

		risk := c.taint
		if report := c.scanner.ScanToolCall(call.Arguments); len(report.Findings) > 0 {
			if report.Score > risk {
				risk = report.Score
			}
			if report.Flagged(c.riskThreshold) {
				c.emitter.SecurityFlagged(call.ID, report.Score, report.Findings[0].Pattern)
			}
		}

		readOnly := false
		if def, ok := snap.Resolve(call.Extension, call.Tool); ok {
			readOnly = def.ReadOnly
		}

		res, err := c.gate.Decide(ctx, permission.Request{Call: call, ReadOnly: readOnly, Risk: risk})
		if err != nil {
			cancelled = true
			results[i] = cancelledResult(call.ID)
			c.emitter.ToolResult(call, results[i])
			continue
		}
		if !res.Allowed {
			results[i] = models.ToolResult{
				ToolCallID: call.ID,
				Outcome:    models.OutcomeDenied,
				Content:    res.Reason,
			}
			c.emitter.ToolResult(call, results[i])
			continue
		}
		allowed = append(allowed, call)
		allowedIdx = append(allowedIdx, i)
	}

	if len(allowed) > 0 && !cancelled {
		c.setState(StateExecuting)
		executed := c.dispatcher.ExecuteAll(ctx, snap, allowed)
		for j, res := range executed {
			results[allowedIdx[j]] = res
			c.emitter.ToolResult(allowed[j], res)
			if res.Outcome == models.OutcomeCancelled {
				cancelled = true
			}
			// Tool output is as much an injection surface as arguments.
			// A flagged result taints the session: later calls inherit
			// its score through resolveCalls' risk floor.
			if report := c.scanner.Scan(res.Content); report.Flagged(c.riskThreshold) {
				c.emitter.SecurityFlagged(res.ToolCallID, report.Score, report.Findings[0].Pattern)
				if report.Score > c.taint {
					c.taint = report.Score
				}
			}
		}
	} else if len(allowed) > 0 {
		for j, call := range allowed {
			results[allowedIdx[j]] = cancelledResult(call.ID)
			c.emitter.ToolResult(call, results[allowedIdx[j]])
		}
	}

	return results, cancelled || ctx.Err() != nil
}

func cancelledResult(callID string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: callID,
		Outcome:    models.OutcomeCancelled,
		Content:    "cancelled before execution",
	}
}

// commitTurn appends an immutable turn and persists the session.
func (c *Controller) commitTurn(ctx context.Context, messages []models.Message, usage models.TokenUsage) {
	now := time.Now().UTC()
	turn := models.Turn{
		Index:       len(c.session.Turns),
		Messages:    messages,
		Usage:       usage,
		CommittedAt: now,
	}
	c.session.Turns = append(c.session.Turns, turn)
	c.session.UpdatedAt = now
	c.contextMgr.RecordTurnUsage(c.session, usage)
	c.persist(ctx)
}

func (c *Controller) persist(ctx context.Context) {
	if c.persister == nil {
		return
	}
	if err := c.persister.Save(ctx, c.session); err != nil {
		c.logger.Error("session save failed", "error", err)
		c.emitter.Error(fmt.Errorf("session save failed: %w", err), false)
	}
}

func (c *Controller) endCancelled(ctx context.Context) (models.EndReason, error) {
	c.setState(StateCancelled)
	c.emitter.SessionEnded(models.EndCancelled, "")
	return models.EndCancelled, ctx.Err()
}

func (c *Controller) endFatal(err error) (models.EndReason, error) {
	c.setState(StateFatal)
	c.logger.Error("session halted", "error", err)
	c.emitter.SessionEnded(models.EndFatal, err.Error())
	return models.EndFatal, err
}

// committedModelTurns counts real turns, skipping compaction summaries,
// so the lead/worker switchover survives compaction and resume.
func (c *Controller) committedModelTurns() int {
	n := 0
	for _, t := range c.session.Turns {
		if !t.Synthetic {
			n++
		}
	}
	return n
}

// streamOutcome is one collected model response.
type streamOutcome struct {
	text  string
	calls []models.ToolCall
	usage models.TokenUsage
}

// streamCompletion runs one model call, forwarding text deltas to the
// event stream and collecting tool calls. Retry for transient failures
// lives in the provider adapters; an error here is terminal.
func (c *Controller) streamCompletion(ctx context.Context, binding models.RoleBinding, snap *extensions.Snapshot, pending []models.Message) (*streamOutcome, error) {
	provider, err := c.providers.Lookup(binding.Provider)
	if err != nil {
		return nil, &ProviderError{Provider: binding.Provider, Model: binding.Model, Class: ClassPermanent, Cause: err}
	}

	req := c.buildRequest(binding, snap, pending)
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &streamOutcome{}
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			c.emitter.ModelDelta(binding.Provider, binding.Model, chunk.Text)
		}
		if chunk.ToolCall != nil {
			ext, tool := models.SplitQualified(chunk.ToolCall.Name)
			out.calls = append(out.calls, models.ToolCall{
				ID:        chunk.ToolCall.ID,
				Extension: ext,
				Tool:      tool,
				Arguments: chunk.ToolCall.Arguments,
			})
		}
		if chunk.Done {
			out.usage = models.TokenUsage{
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
			}
		}
	}
	out.text = text.String()
	return out, nil
}

// buildRequest assembles the provider-neutral request: instructions,
// full committed history, the pending messages, and the snapshot's tool
// surface under extension-qualified names.
func (c *Controller) buildRequest(binding models.RoleBinding, snap *extensions.Snapshot, pending []models.Message) *CompletionRequest {
	req := &CompletionRequest{
		Model:       binding.Model,
		System:      c.session.Instructions,
		MaxTokens:   binding.Params.MaxTokens,
		Temperature: binding.Params.Temperature,
	}

	for _, turn := range c.session.Turns {
		for _, msg := range turn.Messages {
			req.Messages = append(req.Messages, toCompletionMessage(msg))
		}
	}
	for _, msg := range pending {
		req.Messages = append(req.Messages, toCompletionMessage(msg))
	}

	for _, qt := range snap.Tools() {
		req.Tools = append(req.Tools, ToolSpec{
			Name:        qt.Extension + "__" + qt.Def.Name,
			Description: qt.Def.Description,
			Schema:      qt.Def.InputSchema,
		})
	}
	return req
}

func toCompletionMessage(msg models.Message) CompletionMessage {
	return CompletionMessage{
		Role:        msg.Role,
		Content:     msg.Content,
		ToolCalls:   msg.ToolCalls,
		ToolResults: msg.ToolResults,
	}
}

// Plan asks the planner binding for an out-of-band plan. The exchange is
// never recorded as a session turn and advertises no tools.
func (c *Controller) Plan(ctx context.Context, prompt string) (string, error) {
	binding, err := c.router.Resolve(models.ModelRolePlanner)
	if err != nil {
		return "", err
	}
	provider, err := c.providers.Lookup(binding.Provider)
	if err != nil {
		return "", err
	}
	text, _, err := CompleteText(ctx, provider, binding, plannerSystemPrompt, prompt)
	return text, err
}

const plannerSystemPrompt = `You are a planning assistant. Break the user's goal into a concrete ordered plan of steps. Be specific about files, commands, and checks. Output only the plan.`

// CompleteText runs a one-shot completion and returns the full text.
func CompleteText(ctx context.Context, provider Provider, binding models.RoleBinding, system, prompt string) (string, models.TokenUsage, error) {
	req := &CompletionRequest{
		Model:       binding.Model,
		System:      system,
		Messages:    []CompletionMessage{{Role: models.RoleUser, Content: prompt}},
		MaxTokens:   binding.Params.MaxTokens,
		Temperature: binding.Params.Temperature,
	}
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return "", models.TokenUsage{}, err
	}
	var text strings.Builder
	var usage models.TokenUsage
	for chunk := range chunks {
		if chunk.Error != nil {
			return text.String(), usage, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			usage = models.TokenUsage{InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens}
		}
	}
	return text.String(), usage, nil
}
