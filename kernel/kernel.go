package kernel

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/agent"
	"github.com/Govcraft/acton-ai/broker"
	"github.com/Govcraft/acton-ai/internal/metrics"
	"github.com/Govcraft/acton-ai/types"
)

// Kernel supervises the agent population. It owns agent lifecycle, the
// capability registry, and message routing; it never touches an agent's
// conversation or provider state. All mutations happen inside the kernel
// actor's mailbox.
type Kernel struct {
	ref *actor.Ref
}

// Metrics is a point-in-time snapshot of kernel counters.
type Metrics struct {
	ActiveAgents    int
	AgentsSpawned   uint64
	AgentsStopped   uint64
	MessagesRouted  uint64
	RoutingFailures uint64
}

// Option configures a kernel.
type Option func(*kernelState)

// WithLogger sets the kernel logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *kernelState) { s.logger = logger }
}

// WithCollector attaches Prometheus instruments, shared with the agents
// the kernel spawns.
func WithCollector(c *metrics.Collector) Option {
	return func(s *kernelState) { s.collector = c }
}

// WithAgentOptions sets options applied to every agent the kernel spawns,
// before any per-spawn options.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(s *kernelState) { s.agentOpts = opts }
}

// Spawn starts the kernel actor and subscribes it to capability
// announcements and task delegations.
func Spawn(cfg Config, bk *broker.Broker, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &kernelState{
		cfg:      cfg,
		broker:   bk,
		agents:   make(map[types.AgentID]*agent.Agent),
		registry: NewCapabilityRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "kernel"))

	ref := actor.Spawn("kernel", s, actor.WithLogger(s.logger))
	s.ref = ref

	bk.Subscribe(ref,
		(*types.AnnounceCapabilities)(nil),
		(*types.DelegateTask)(nil),
	)

	return &Kernel{ref: ref}, nil
}

// Ref returns the underlying actor reference.
func (k *Kernel) Ref() *actor.Ref { return k.ref }

// SpawnAgent starts a new supervised agent. The kernel's default system
// prompt is applied when cfg has none. Fails with AGENT_LIMIT_REACHED at
// the ceiling, AGENT_ALREADY_EXISTS for a duplicate pre-assigned ID, and
// SHUTTING_DOWN once Shutdown has begun.
func (k *Kernel) SpawnAgent(ctx context.Context, cfg agent.Config, opts ...agent.Option) (types.AgentID, error) {
	reply := make(chan spawnResult, 1)
	if err := k.ref.Send(&spawnAgent{cfg: cfg, opts: opts, reply: reply}); err != nil {
		return "", types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-k.ref.Done():
		return "", types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// StopAgent stops a supervised agent and removes its capabilities.
func (k *Kernel) StopAgent(ctx context.Context, id types.AgentID) error {
	reply := make(chan error, 1)
	if err := k.ref.Send(&stopAgent{id: id, reply: reply}); err != nil {
		return types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.ref.Done():
		return types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// Agent returns the handle of a supervised agent.
func (k *Kernel) Agent(ctx context.Context, id types.AgentID) (*agent.Agent, error) {
	res, err := k.route(ctx, &routeRequest{agentID: id})
	if err != nil {
		return nil, err
	}
	return res.agent, nil
}

// RouteToAgent delivers msg to the identified agent's mailbox.
func (k *Kernel) RouteToAgent(ctx context.Context, id types.AgentID, msg any) error {
	_, err := k.route(ctx, &routeRequest{agentID: id, msg: msg, deliver: true})
	return err
}

// RouteToCapability delivers msg to one agent advertising capability and
// returns which agent received it.
func (k *Kernel) RouteToCapability(ctx context.Context, capability string, msg any) (types.AgentID, error) {
	res, err := k.route(ctx, &routeRequest{capability: capability, msg: msg, deliver: true})
	if err != nil {
		return "", err
	}
	return res.target, nil
}

// FindCapableAgents returns every supervised agent advertising capability.
func (k *Kernel) FindCapableAgents(ctx context.Context, capability string) ([]types.AgentID, error) {
	reply := make(chan []types.AgentID, 1)
	if err := k.ref.Send(&findCapable{capability: capability, reply: reply}); err != nil {
		return nil, types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case agents := <-reply:
		return agents, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.ref.Done():
		return nil, types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// ListAgents returns the IDs of all supervised agents, sorted.
func (k *Kernel) ListAgents(ctx context.Context) ([]types.AgentID, error) {
	reply := make(chan []types.AgentID, 1)
	if err := k.ref.Send(&listAgents{reply: reply}); err != nil {
		return nil, types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case agents := <-reply:
		return agents, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.ref.Done():
		return nil, types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// Metrics returns a snapshot of kernel counters.
func (k *Kernel) Metrics(ctx context.Context) (Metrics, error) {
	reply := make(chan Metrics, 1)
	if err := k.ref.Send(&metricsRequest{reply: reply}); err != nil {
		return Metrics{}, types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case m := <-reply:
		return m, nil
	case <-ctx.Done():
		return Metrics{}, ctx.Err()
	case <-k.ref.Done():
		return Metrics{}, types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// Shutdown stops every supervised agent and then the kernel itself.
// Further SpawnAgent calls fail once shutdown begins. Blocks until the
// kernel actor has drained or ctx expires.
func (k *Kernel) Shutdown(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := k.ref.Send(&shutdown{reply: reply}); err != nil {
		return nil
	}
	select {
	case <-reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-k.ref.Done():
		return nil
	}
	k.ref.Stop()
	select {
	case <-k.ref.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done closes when the kernel actor has fully stopped.
func (k *Kernel) Done() <-chan struct{} { return k.ref.Done() }

func (k *Kernel) route(ctx context.Context, req *routeRequest) (routeResult, error) {
	reply := make(chan routeResult, 1)
	req.reply = reply
	if err := k.ref.Send(req); err != nil {
		return routeResult{}, types.NewError(types.ErrShuttingDown, "kernel is not running")
	}
	select {
	case res := <-reply:
		return res, res.err
	case <-ctx.Done():
		return routeResult{}, ctx.Err()
	case <-k.ref.Done():
		return routeResult{}, types.NewError(types.ErrShuttingDown, "kernel stopped")
	}
}

// Internal kernel messages.
type (
	spawnAgent struct {
		cfg   agent.Config
		opts  []agent.Option
		reply chan spawnResult
	}
	spawnResult struct {
		id  types.AgentID
		err error
	}
	stopAgent struct {
		id    types.AgentID
		reply chan error
	}
	routeRequest struct {
		agentID    types.AgentID
		capability string
		msg        any
		deliver    bool
		reply      chan routeResult
	}
	routeResult struct {
		target types.AgentID
		agent  *agent.Agent
		err    error
	}
	findCapable struct {
		capability string
		reply      chan []types.AgentID
	}
	listAgents struct {
		reply chan []types.AgentID
	}
	metricsRequest struct {
		reply chan Metrics
	}
	shutdown struct {
		reply chan struct{}
	}
)

type kernelState struct {
	cfg       Config
	broker    *broker.Broker
	ref       *actor.Ref
	logger    *zap.Logger
	collector *metrics.Collector
	agentOpts []agent.Option

	agents       map[types.AgentID]*agent.Agent
	registry     *CapabilityRegistry
	shuttingDown bool

	spawned       uint64
	stopped       uint64
	routed        uint64
	routeFailures uint64
}

func (s *kernelState) Receive(_ context.Context, msg any) {
	switch m := msg.(type) {
	case *spawnAgent:
		id, err := s.handleSpawn(m.cfg, m.opts)
		m.reply <- spawnResult{id: id, err: err}
	case *stopAgent:
		m.reply <- s.handleStop(m.id)
	case *routeRequest:
		m.reply <- s.handleRoute(m)
	case *findCapable:
		m.reply <- s.registry.FindAllCapableAgents(m.capability)
	case *listAgents:
		m.reply <- s.listIDs()
	case *metricsRequest:
		m.reply <- Metrics{
			ActiveAgents:    len(s.agents),
			AgentsSpawned:   s.spawned,
			AgentsStopped:   s.stopped,
			MessagesRouted:  s.routed,
			RoutingFailures: s.routeFailures,
		}
	case *shutdown:
		s.handleShutdown()
		m.reply <- struct{}{}
	case *types.AnnounceCapabilities:
		s.handleAnnounce(m)
	case *types.DelegateTask:
		s.handleDelegate(m)
	default:
		s.logger.Debug("unhandled message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *kernelState) handleSpawn(cfg agent.Config, opts []agent.Option) (types.AgentID, error) {
	if s.shuttingDown {
		return "", types.NewError(types.ErrShuttingDown, "kernel is shutting down")
	}
	if len(s.agents) >= s.cfg.MaxAgents {
		return "", types.NewErrorf(types.ErrAgentLimit, "agent limit %d reached", s.cfg.MaxAgents)
	}
	if !cfg.ID.IsZero() {
		if _, exists := s.agents[cfg.ID]; exists {
			return "", types.NewErrorf(types.ErrAgentExists, "agent %s already exists", cfg.ID)
		}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = s.cfg.DefaultSystemPrompt
	}

	all := append(append([]agent.Option{}, s.agentOpts...), opts...)
	all = append(all, agent.WithCollector(s.collector))
	ag, err := agent.Spawn(cfg, s.broker, all...)
	if err != nil {
		return "", err
	}

	s.agents[ag.ID()] = ag
	if len(cfg.Capabilities) > 0 {
		s.registry.Register(ag.ID(), cfg.Capabilities)
	}
	s.spawned++
	s.collector.AgentSpawned()
	s.logger.Info("agent spawned",
		zap.String("agent_id", ag.ID().String()),
		zap.Int("active", len(s.agents)))
	s.broker.Publish(&types.SystemEvent{Kind: types.SystemAgentSpawned, AgentID: ag.ID()})
	return ag.ID(), nil
}

func (s *kernelState) handleStop(id types.AgentID) error {
	ag, ok := s.agents[id]
	if !ok {
		return types.NewErrorf(types.ErrAgentNotFound, "agent %s not found", id)
	}
	s.removeAgent(id, ag)
	return nil
}

// removeAgent stops ag and drops all kernel references to it. The agent
// stops its own child executor before draining.
func (s *kernelState) removeAgent(id types.AgentID, ag *agent.Agent) {
	ag.Stop()
	s.registry.Unregister(id)
	delete(s.agents, id)
	s.stopped++
	s.collector.AgentStopped()
	s.logger.Info("agent stopped",
		zap.String("agent_id", id.String()),
		zap.Int("active", len(s.agents)))
	s.broker.Publish(&types.SystemEvent{Kind: types.SystemAgentStopped, AgentID: id})
}

func (s *kernelState) handleRoute(m *routeRequest) routeResult {
	id := m.agentID
	if id.IsZero() {
		capable, ok := s.registry.FindCapableAgent(m.capability)
		if !ok {
			s.routeFailures++
			s.collector.MessageRouted("no_capable_agent")
			return routeResult{err: types.NewErrorf(types.ErrNoCapableAgent,
				"no agent advertises %q", m.capability)}
		}
		id = capable
	}
	ag, ok := s.agents[id]
	if !ok {
		s.routeFailures++
		s.collector.MessageRouted("agent_not_found")
		return routeResult{err: types.NewErrorf(types.ErrAgentNotFound,
			"agent %s not found", id)}
	}
	if !m.deliver {
		return routeResult{target: id, agent: ag}
	}
	if err := ag.Submit(m.msg); err != nil {
		s.routeFailures++
		s.collector.MessageRouted("failed")
		return routeResult{err: types.NewErrorf(types.ErrRoutingFailed,
			"agent %s rejected message", id).WithCause(err)}
	}
	s.routed++
	s.collector.MessageRouted("delivered")
	return routeResult{target: id, agent: ag}
}

// handleAnnounce refreshes the registry from a broadcast. Announcements
// from agents the kernel does not supervise are ignored; routing could
// never reach them.
func (s *kernelState) handleAnnounce(m *types.AnnounceCapabilities) {
	if _, ok := s.agents[m.AgentID]; !ok {
		s.logger.Debug("capability announcement from unknown agent",
			zap.String("agent_id", m.AgentID.String()))
		return
	}
	s.registry.Register(m.AgentID, m.Capabilities)
}

// handleDelegate routes a delegated task to its target agent, falling back
// to capability matching on the task type when no target was named. An
// unroutable task fails back to the delegator over the broker.
func (s *kernelState) handleDelegate(m *types.DelegateTask) {
	res := s.handleRoute(&routeRequest{agentID: m.To, capability: m.TaskType, msg: m, deliver: true})
	if res.err != nil {
		s.logger.Warn("delegation unroutable",
			zap.String("task_id", m.TaskID.String()),
			zap.String("task_type", m.TaskType),
			zap.Error(res.err))
		s.broker.Publish(&types.TaskFailed{
			TaskID:  m.TaskID,
			AgentID: m.To,
			Reason:  res.err.Error(),
		})
	}
}

func (s *kernelState) handleShutdown() {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.logger.Info("kernel shutting down", zap.Int("agents", len(s.agents)))
	for _, id := range s.listIDs() {
		s.removeAgent(id, s.agents[id])
	}
}

func (s *kernelState) listIDs() []types.AgentID {
	ids := make([]types.AgentID, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
