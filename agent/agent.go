package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/broker"
	"github.com/Govcraft/acton-ai/internal/metrics"
	"github.com/Govcraft/acton-ai/llm"
	"github.com/Govcraft/acton-ai/tool"
	"github.com/Govcraft/acton-ai/types"
)

// Agent wraps a running agent actor. Prompts and delegations are submitted
// through its methods; model traffic flows over the broker.
type Agent struct {
	ref *actor.Ref
	id  types.AgentID
}

// Status is a point-in-time snapshot of an agent.
type Status struct {
	ID                 types.AgentID
	Name               string
	State              State
	ConversationLength int
	OutgoingTasks      int
	IncomingTasks      int
	PendingOutgoing    int
	PendingIncoming    int
}

// Option configures an agent.
type Option func(*agentState)

// WithLogger sets the agent logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *agentState) { s.logger = logger }
}

// WithCollector attaches Prometheus instruments.
func WithCollector(c *metrics.Collector) Option {
	return func(s *agentState) { s.collector = c }
}

// WithRegistry sets the agent's tool registry. Without one the agent has
// no tools and never enters Executing.
func WithRegistry(reg *tool.Registry) Option {
	return func(s *agentState) { s.registry = reg }
}

// WithSandboxPool routes the agent's isolated tools through pool.
func WithSandboxPool(pool *tool.SandboxPool) Option {
	return func(s *agentState) { s.pool = pool }
}

// WithToolTimeout bounds each of the agent's tool calls.
func WithToolTimeout(d time.Duration) Option {
	return func(s *agentState) { s.toolTimeout = d }
}

// Spawn starts an agent actor, its child tool executor, and subscribes it
// to the stream and task events it consumes.
func Spawn(cfg Config, bk *broker.Broker, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &agentState{
		cfg:     cfg,
		id:      cfg.ID,
		broker:  bk,
		state:   StateIdle,
		conv:    NewConversation(cfg.MaxConversationLength),
		pending: make(map[types.CorrelationID]*pendingRequest),
		acc:     llm.NewStreamAccumulator(),
		tracker: NewDelegationTracker(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = tool.NewRegistry(s.logger)
	}
	s.logger = s.logger.With(
		zap.String("component", "agent"),
		zap.String("agent_id", cfg.ID.String()),
	)

	ref := actor.Spawn("agent/"+cfg.ID.String(), s,
		actor.WithLogger(s.logger),
		actor.WithStopHandler(func(*actor.Ref) {
			if s.executor != nil {
				s.executor.Stop()
			}
		}),
	)
	s.ref = ref
	s.executor = s.spawnExecutor()

	bk.Subscribe(ref,
		(*types.StreamStart)(nil),
		(*types.StreamToken)(nil),
		(*types.StreamToolCall)(nil),
		(*types.StreamEnd)(nil),
		(*types.TaskAccepted)(nil),
		(*types.TaskCompleted)(nil),
		(*types.TaskFailed)(nil),
	)

	if len(cfg.Capabilities) > 0 {
		bk.Publish(&types.AnnounceCapabilities{AgentID: cfg.ID, Capabilities: cfg.Capabilities})
	}

	return &Agent{ref: ref, id: cfg.ID}, nil
}

// ID returns the agent's identity.
func (a *Agent) ID() types.AgentID { return a.id }

// Ref returns the underlying actor reference.
func (a *Agent) Ref() *actor.Ref { return a.ref }

// Prompt runs one full reasoning loop and returns its terminal outcome.
// The agent must be Idle or Completed; otherwise the result carries an
// agent-busy error.
func (a *Agent) Prompt(ctx context.Context, content string) (types.PromptResult, error) {
	reply := make(chan types.PromptResult, 1)
	corr := types.NewCorrelationID()
	if err := a.ref.Send(&types.UserPrompt{CorrelationID: corr, Content: content, Reply: reply}); err != nil {
		return types.PromptResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return types.PromptResult{}, ctx.Err()
	case <-a.ref.Done():
		return types.PromptResult{}, types.NewError(types.ErrAgentStopping, "agent stopped")
	}
}

// Submit sends a message directly to the agent's mailbox. Used by the
// kernel for routed traffic such as DelegateTask.
func (a *Agent) Submit(msg any) error { return a.ref.Send(msg) }

// Delegate hands a task to another agent and tracks it as outgoing. The
// kernel routes the published DelegateTask to its target. deadline of zero
// means none.
func (a *Agent) Delegate(to types.AgentID, taskType string, input json.RawMessage, deadline time.Duration) (types.TaskID, error) {
	taskID := types.NewTaskID()
	err := a.ref.Send(&delegateOutgoing{
		taskID:   taskID,
		to:       to,
		taskType: taskType,
		input:    input,
		deadline: deadline,
	})
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// CompleteIncomingTask finishes a task that was delegated to this agent,
// notifying the delegator.
func (a *Agent) CompleteIncomingTask(taskID types.TaskID, result json.RawMessage) error {
	return a.ref.Send(&finishIncoming{taskID: taskID, result: result})
}

// FailIncomingTask fails a task that was delegated to this agent,
// notifying the delegator.
func (a *Agent) FailIncomingTask(taskID types.TaskID, reason string) error {
	return a.ref.Send(&finishIncoming{taskID: taskID, reason: reason, failed: true})
}

// Status returns a snapshot of the agent.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := a.ref.Send(&statusRequest{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-a.ref.Done():
		return Status{}, types.NewError(types.ErrAgentStopping, "agent stopped")
	}
}

// Stop shuts the agent down, stopping its child executor first. Pending
// prompts are failed.
func (a *Agent) Stop() {
	if err := a.ref.Send(&stopAgent{}); err != nil {
		a.ref.Stop()
	}
}

// Done is closed when the agent actor has exited.
func (a *Agent) Done() <-chan struct{} { return a.ref.Done() }

// Internal mailbox messages.

type delegateOutgoing struct {
	taskID   types.TaskID
	to       types.AgentID
	taskType string
	input    json.RawMessage
	deadline time.Duration
}

type finishIncoming struct {
	taskID types.TaskID
	result json.RawMessage
	reason string
	failed bool
}

type statusRequest struct {
	reply chan<- Status
}

type stopAgent struct{}

type executorCrashed struct{}

// pendingRequest tracks one reasoning loop in flight. The same correlation
// ID is reused across all of its tool rounds.
type pendingRequest struct {
	correlationID types.CorrelationID
	prompt        string
	reply         chan<- types.PromptResult
	rounds        int
	expected      int
	results       []*types.ToolResult
}

type agentState struct {
	cfg         Config
	id          types.AgentID
	broker      *broker.Broker
	registry    *tool.Registry
	pool        *tool.SandboxPool
	toolTimeout time.Duration
	logger      *zap.Logger
	collector   *metrics.Collector

	ref      *actor.Ref
	executor *tool.Executor

	state   State
	conv    *Conversation
	pending map[types.CorrelationID]*pendingRequest
	acc     *llm.StreamAccumulator
	tracker *DelegationTracker
}

func (s *agentState) spawnExecutor() *tool.Executor {
	execCfg := tool.DefaultExecutorConfig(s.id)
	if s.toolTimeout > 0 {
		execCfg.Timeout = s.toolTimeout
	}
	ref := s.ref
	opts := []tool.ExecutorOption{
		tool.WithExecutorLogger(s.logger),
		tool.WithExecutorCollector(s.collector),
		tool.WithPanicNotify(func(*actor.Ref, any, any) {
			_ = ref.TrySend(&executorCrashed{})
		}),
	}
	if s.pool != nil {
		opts = append(opts, tool.WithSandboxPool(s.pool))
	}
	return tool.SpawnExecutor(execCfg, s.registry, ref, opts...)
}

func (s *agentState) Receive(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *types.UserPrompt:
		s.handlePrompt(m)
	case *types.StreamStart:
		if _, ours := s.pending[m.CorrelationID]; ours {
			s.acc.Start(m.CorrelationID)
		}
	case *types.StreamToken:
		if _, ours := s.pending[m.CorrelationID]; ours {
			s.acc.AppendToken(m.CorrelationID, m.Token)
		}
	case *types.StreamToolCall:
		s.handleToolCall(m)
	case *types.StreamEnd:
		s.handleStreamEnd(m)
	case *types.ToolResult:
		s.handleToolResult(m)
	case *types.DelegateTask:
		s.handleIncomingTask(m)
	case *types.TaskAccepted:
		if s.tracker.Outgoing(m.TaskID) != nil {
			if err := s.tracker.AcceptOutgoing(m.TaskID); err != nil {
				s.logger.Warn("stale task acceptance", zap.String("task_id", m.TaskID.String()), zap.Error(err))
			}
		}
	case *types.TaskCompleted:
		if s.tracker.Outgoing(m.TaskID) != nil {
			if err := s.tracker.CompleteOutgoing(m.TaskID, m.Result); err != nil {
				s.logger.Warn("stale task completion", zap.String("task_id", m.TaskID.String()), zap.Error(err))
			} else {
				s.collector.TaskDelegated(TaskCompleted.String())
				s.logger.Info("delegated task completed", zap.String("task_id", m.TaskID.String()))
			}
		}
	case *types.TaskFailed:
		if s.tracker.Outgoing(m.TaskID) != nil {
			if err := s.tracker.FailOutgoing(m.TaskID, m.Reason); err != nil {
				s.logger.Warn("stale task failure", zap.String("task_id", m.TaskID.String()), zap.Error(err))
			} else {
				s.collector.TaskDelegated(TaskFailed.String())
				s.logger.Warn("delegated task failed",
					zap.String("task_id", m.TaskID.String()),
					zap.String("reason", m.Reason))
			}
		}
	case *delegateOutgoing:
		s.handleDelegateOutgoing(m)
	case *finishIncoming:
		s.handleFinishIncoming(m)
	case *executorCrashed:
		s.handleExecutorCrash()
	case *statusRequest:
		m.reply <- Status{
			ID:                 s.id,
			Name:               s.cfg.Name,
			State:              s.state,
			ConversationLength: s.conv.Len(),
			OutgoingTasks:      s.tracker.OutgoingCount(),
			IncomingTasks:      s.tracker.IncomingCount(),
			PendingOutgoing:    s.tracker.PendingOutgoingCount(),
			PendingIncoming:    s.tracker.PendingIncomingCount(),
		}
	case *stopAgent:
		s.handleStop()
	default:
		s.logger.Warn("unexpected message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *agentState) handlePrompt(m *types.UserPrompt) {
	if !s.state.CanAcceptPrompt() {
		s.logger.Warn("rejecting prompt, agent busy",
			zap.String("correlation_id", m.CorrelationID.String()),
			zap.String("state", s.state.String()))
		s.deliver(m.Reply, types.PromptResult{
			CorrelationID: m.CorrelationID,
			Err: types.NewErrorf(types.ErrAgentBusy, "agent is %s", s.state).
				WithComponent(s.id.String()),
		})
		return
	}

	s.logger.Info("received prompt",
		zap.String("correlation_id", m.CorrelationID.String()),
		zap.Int("content_length", len(m.Content)))

	s.state = StateThinking
	s.conv.Append(types.NewUserMessage(m.Content))
	s.pending[m.CorrelationID] = &pendingRequest{
		correlationID: m.CorrelationID,
		prompt:        m.Content,
		reply:         m.Reply,
	}
	s.submit(m.CorrelationID)
}

// submit publishes a provider request built from the system prompt, the
// full history, and the agent's tool definitions.
func (s *agentState) submit(corr types.CorrelationID) {
	var messages []types.Message
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, types.NewSystemMessage(s.cfg.SystemPrompt))
	}
	messages = append(messages, s.conv.Messages()...)

	s.broker.Publish(&types.Request{
		CorrelationID: corr,
		AgentID:       s.id,
		Messages:      messages,
		Tools:         s.registry.Definitions(),
	})
}

func (s *agentState) handleToolCall(m *types.StreamToolCall) {
	if _, ours := s.pending[m.CorrelationID]; !ours {
		return
	}
	if m.ToolCall.Name == "" || m.ToolCall.ID == "" {
		s.logger.Error("malformed tool call in stream",
			zap.String("correlation_id", m.CorrelationID.String()))
		return
	}
	s.acc.AddToolCall(m.CorrelationID, m.ToolCall)
}

func (s *agentState) handleStreamEnd(m *types.StreamEnd) {
	req, ours := s.pending[m.CorrelationID]
	if !ours {
		return
	}

	if m.Err != nil {
		s.acc.Remove(m.CorrelationID)
		s.finishRequest(req, types.PromptResult{
			CorrelationID: m.CorrelationID,
			Rounds:        req.rounds,
			Err:           m.Err,
		})
		return
	}

	stream := s.acc.End(m.CorrelationID, m.StopReason, nil)
	if stream == nil {
		s.finishRequest(req, types.PromptResult{
			CorrelationID: m.CorrelationID,
			Rounds:        req.rounds,
			Err: types.NewErrorf(types.ErrProcessingFailed,
				"no active stream for correlation %s", m.CorrelationID).
				WithComponent(s.id.String()),
		})
		return
	}

	if stream.HasToolCalls() {
		s.conv.Append(types.NewAssistantMessage(stream.Content()).WithToolCalls(stream.ToolCalls))
		s.state = StateExecuting
		req.expected = len(stream.ToolCalls)
		req.results = req.results[:0]
		s.logger.Debug("executing tool round",
			zap.String("correlation_id", m.CorrelationID.String()),
			zap.Int("round", req.rounds+1),
			zap.Int("calls", req.expected))
		if err := s.executor.Execute(&types.ToolExecute{
			CorrelationID: m.CorrelationID,
			AgentID:       s.id,
			Calls:         stream.ToolCalls,
		}); err != nil {
			s.finishRequest(req, types.PromptResult{
				CorrelationID: m.CorrelationID,
				Rounds:        req.rounds,
				Err: types.NewError(types.ErrProcessingFailed, "tool executor unavailable").
					WithCause(err).WithComponent(s.id.String()),
			})
		}
		return
	}

	content := stream.Content()
	s.conv.Append(types.NewAssistantMessage(content))
	s.logger.Info("completed response",
		zap.String("correlation_id", m.CorrelationID.String()),
		zap.Int("content_length", len(content)),
		zap.Int("rounds", req.rounds))
	s.finishRequest(req, types.PromptResult{
		CorrelationID: m.CorrelationID,
		Content:       content,
		StopReason:    m.StopReason,
		Rounds:        req.rounds,
	})
}

// handleToolResult appends completed-round results to history in requested
// order and resubmits, bounded by the round limit.
func (s *agentState) handleToolResult(m *types.ToolResult) {
	req, ours := s.pending[m.CorrelationID]
	if !ours || req.expected == 0 {
		return
	}

	req.results = append(req.results, m)
	if len(req.results) < req.expected {
		return
	}

	// Timeouts and sandbox failures already exhausted the executor's
	// retries; the round fails rather than feeding the failure back to
	// the model.
	for _, res := range req.results {
		if res.Err == nil {
			continue
		}
		if res.Err.Code == types.ErrToolTimeout || res.Err.Code == types.ErrSandbox {
			s.logger.Error("tool round failed",
				zap.String("correlation_id", m.CorrelationID.String()),
				zap.String("tool", res.Name),
				zap.Error(res.Err))
			req.expected = 0
			s.finishRequest(req, types.PromptResult{
				CorrelationID: m.CorrelationID,
				Rounds:        req.rounds + 1,
				Err:           res.Err,
			})
			return
		}
	}

	for _, res := range req.results {
		s.conv.Append(types.NewToolMessage(res.ToolCallID, res.Name, res.Content()))
	}
	req.expected = 0
	req.rounds++

	if req.rounds > s.cfg.MaxToolRounds {
		s.logger.Warn("tool round limit exceeded",
			zap.String("correlation_id", m.CorrelationID.String()),
			zap.Int("rounds", req.rounds))
		s.finishRequest(req, types.PromptResult{
			CorrelationID: m.CorrelationID,
			Rounds:        req.rounds,
			Err: types.NewErrorf(types.ErrToolRoundLimit,
				"tool round limit exceeded after %d rounds", s.cfg.MaxToolRounds).
				WithComponent(s.id.String()),
		})
		return
	}

	s.state = StateThinking
	s.submit(m.CorrelationID)
}

// finishRequest resolves a pending loop, replies to the caller, and moves
// the agent to Completed on success or Idle on failure.
func (s *agentState) finishRequest(req *pendingRequest, result types.PromptResult) {
	delete(s.pending, req.correlationID)
	if s.state != StateStopping {
		if result.Err != nil {
			s.state = StateIdle
		} else {
			s.state = StateCompleted
		}
	}
	s.deliver(req.reply, result)
}

func (s *agentState) deliver(reply chan<- types.PromptResult, result types.PromptResult) {
	if reply == nil {
		return
	}
	select {
	case reply <- result:
	default:
		s.logger.Warn("dropping prompt result, reply channel full",
			zap.String("correlation_id", result.CorrelationID.String()))
	}
}

// handleIncomingTask auto-accepts tasks delegated to this agent and
// broadcasts the acceptance.
func (s *agentState) handleIncomingTask(m *types.DelegateTask) {
	s.logger.Info("received delegated task",
		zap.String("task_id", m.TaskID.String()),
		zap.String("from", m.From.String()),
		zap.String("task_type", m.TaskType))

	s.tracker.TrackIncoming(m.TaskID, m.From, m.TaskType, m.Input)
	s.tracker.AcceptIncoming(m.TaskID)
	s.broker.Publish(&types.TaskAccepted{TaskID: m.TaskID, AgentID: s.id})
}

func (s *agentState) handleDelegateOutgoing(m *delegateOutgoing) {
	task := NewDelegatedTask(m.taskID, m.to, m.taskType)
	if m.deadline > 0 {
		task.WithDeadline(m.deadline)
	}
	s.tracker.TrackOutgoing(task)
	s.collector.TaskDelegated(TaskPending.String())
	s.broker.Publish(&types.DelegateTask{
		TaskID:   m.taskID,
		From:     s.id,
		To:       m.to,
		TaskType: m.taskType,
		Input:    m.input,
		Deadline: m.deadline,
	})
}

func (s *agentState) handleFinishIncoming(m *finishIncoming) {
	info := s.tracker.RemoveIncoming(m.taskID)
	if info == nil {
		s.logger.Warn("finishing unknown incoming task", zap.String("task_id", m.taskID.String()))
		return
	}
	if m.failed {
		s.broker.Publish(&types.TaskFailed{TaskID: m.taskID, AgentID: s.id, Reason: m.reason})
		return
	}
	s.broker.Publish(&types.TaskCompleted{TaskID: m.taskID, AgentID: s.id, Result: m.result})
}

// handleExecutorCrash replaces the dead executor and fails loops that were
// waiting on it. Only the executor died; the agent keeps running.
func (s *agentState) handleExecutorCrash() {
	s.logger.Error("tool executor crashed, respawning")
	s.executor.Stop()
	s.executor = s.spawnExecutor()

	for corr, req := range s.pending {
		if req.expected == 0 {
			continue
		}
		s.acc.Remove(corr)
		s.finishRequest(req, types.PromptResult{
			CorrelationID: corr,
			Rounds:        req.rounds,
			Err: types.NewError(types.ErrProcessingFailed, "tool executor crashed").
				WithComponent(s.id.String()),
		})
	}
}

// handleStop fails pending loops, stops the child executor before the
// agent itself, and closes the mailbox.
func (s *agentState) handleStop() {
	s.state = StateStopping
	for corr, req := range s.pending {
		delete(s.pending, corr)
		s.deliver(req.reply, types.PromptResult{
			CorrelationID: corr,
			Rounds:        req.rounds,
			Err: types.NewError(types.ErrAgentStopping, "agent stopping").
				WithComponent(s.id.String()),
		})
	}
	s.logger.Info("agent stopping", zap.Int("conversation_length", s.conv.Len()))
	s.executor.Stop()
	s.ref.Stop()
}
