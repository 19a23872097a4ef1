package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// MaxActiveEnvVar overrides the concurrency limit when set to an integer.
const MaxActiveEnvVar = "MAX_ACTIVE_NODES"

var (
	// ErrNoWorkflow is returned by operations requiring a tracked workflow.
	ErrNoWorkflow = errors.New("no workflow is set")
	// ErrReentrantProcessing is returned when a delivery is requested while
	// another is already in flight.
	ErrReentrantProcessing = errors.New("signal delivery is already in progress")
	// ErrStopped is returned when queued processing is requested while the
	// manager is stopped.
	ErrStopped = errors.New("manager is stopped")
	// ErrMultipleOutputIDs is returned by Send when a channel already holds
	// a value under a different id.
	ErrMultipleOutputIDs = errors.New("sending multiple values on the same output channel via different ids is not supported")
)

// outputState is the cached output of one (node, channel) pair: the last
// sent value keyed by signal id, plus the invalidated flag set by
// Invalidate and cleared by Send.
type outputState struct {
	outputs     map[any]any
	invalidated bool
}

func newOutputState() *outputState {
	return &outputState{outputs: make(map[any]any)}
}

// linkExtra carries per-link bookkeeping that has no place on the link
// itself. didScheduleNew records that a New signal was scheduled so a later
// re-enable resends the cached value as an Update instead.
type linkExtra struct {
	didScheduleNew bool
}

// Config carries the optional collaborators of a Manager.
type Config struct {
	// Logger used for scheduling decisions; nil means no logging.
	Logger *zap.Logger
	// Tracer wraps every node delivery in a span; nil disables tracing.
	Tracer trace.Tracer
	// Settings supplies the persisted concurrency limit.
	Settings Settings
	// UpdateDelay is the debounce interval between an update request and
	// the scheduling pass it triggers.
	UpdateDelay time.Duration
	// OnStarted fires when a scheduling pass begins after the workflow was
	// quiescent.
	OnStarted func()
	// OnFinished fires when no node is pending, active or blocking anymore.
	OnFinished func()
	// OnProcessingStarted fires just before a node's signals are delivered.
	OnProcessingStarted func(workflow.Node)
	// OnProcessingFinished fires after a node's delivery completes,
	// successfully or not.
	OnProcessingFinished func(workflow.Node)
}

// DefaultConfig returns a Config with the default debounce interval.
func DefaultConfig() Config {
	return Config{UpdateDelay: 10 * time.Millisecond}
}

// Manager schedules signal deliveries over a workflow. It keeps an input
// queue of pending signals, a per-(node, output channel) cache of last
// sent values, and decides which node receives its inputs next, honoring
// invalidation, blocking state and cycle containment.
//
// Scheduling is cooperative: a debounced timer coalesces bursts of Send
// and structural-change calls into a single pass. Actual computation is
// delegated; one delivery is in flight at a time.
type Manager struct {
	mu       sync.Mutex
	delegate Delegate
	cfg      Config
	logger   *zap.Logger

	workflow    *workflow.Scheme
	unsubscribe func()

	queue   []Signal
	outputs map[workflow.Node]map[*channel.Output]*outputState
	extras  map[*workflow.Link]*linkExtra

	state        atomic.Int32
	runtimeState atomic.Int32
	hasFinished  bool

	maxActive    *int
	timerMu      sync.Mutex
	timer        *time.Timer
	timerPending bool
}

// NewManager creates a Manager in the Running state delivering through
// delegate.
func NewManager(delegate Delegate, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.UpdateDelay <= 0 {
		cfg.UpdateDelay = DefaultConfig().UpdateDelay
	}
	m := &Manager{
		delegate:    delegate,
		cfg:         cfg,
		logger:      cfg.Logger,
		outputs:     make(map[workflow.Node]map[*channel.Output]*outputState),
		extras:      make(map[*workflow.Link]*linkExtra),
		hasFinished: true,
	}
	m.state.Store(int32(Running))
	m.runtimeState.Store(int32(Waiting))
	return m
}

// Workflow returns the tracked workflow.
func (m *Manager) Workflow() *workflow.Scheme {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workflow
}

// SetWorkflow replaces the tracked workflow. All queued signals and cached
// outputs of the previous workflow are discarded; every existing link of
// the new workflow is treated as freshly added, so sinks receive the
// cached source values.
func (m *Manager) SetWorkflow(wf *workflow.Scheme) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf == m.workflow {
		return
	}
	if m.workflow != nil {
		if m.unsubscribe != nil {
			m.unsubscribe()
			m.unsubscribe = nil
		}
		m.queue = nil
		m.outputs = make(map[workflow.Node]map[*channel.Output]*outputState)
		m.extras = make(map[*workflow.Link]*linkExtra)
	}
	m.workflow = wf
	if wf == nil {
		return
	}
	for _, node := range wf.Nodes() {
		m.outputs[node] = make(map[*channel.Output]*outputState)
	}
	for _, link := range wf.Links() {
		m.linkAdded(link)
	}
	m.unsubscribe = wf.Subscribe(m.handleEvent)
}

// handleEvent reacts to structural workflow changes. Runtime state flag
// changes only trigger a scheduling pass; structural ones also update the
// manager's bookkeeping.
func (m *Manager) handleEvent(ev workflow.Event) {
	switch ev := ev.(type) {
	case *workflow.NodeEvent:
		switch ev.Kind() {
		case workflow.NodeAdded:
			m.mu.Lock()
			m.outputs[ev.Node] = make(map[*channel.Output]*outputState)
			m.mu.Unlock()
		case workflow.NodeRemoved:
			m.mu.Lock()
			m.removePendingSignals(ev.Node)
			delete(m.outputs, ev.Node)
			m.mu.Unlock()
		}
	case *workflow.LinkEvent:
		switch ev.Kind() {
		case workflow.LinkAdded:
			m.mu.Lock()
			m.linkAdded(ev.Link)
			m.mu.Unlock()
		case workflow.LinkRemoved:
			m.mu.Lock()
			delete(m.extras, ev.Link)
			m.mu.Unlock()
		case workflow.InputLinkRemoved:
			m.mu.Lock()
			m.logger.Info("scheduling close signal", zap.Stringer("link", ev.Link))
			var closes []Signal
			for id := range m.linkContents(ev.Link) {
				closes = append(closes, Signal{
					Kind: Close, Link: ev.Link, Value: nil, ID: id, Index: ev.Index,
				})
			}
			m.schedule(closes)
			m.mu.Unlock()
		case workflow.LinkEnabledChanged:
			if ev.Link.IsEnabled() {
				m.mu.Lock()
				m.logger.Info("link enabled, scheduling data update",
					zap.Stringer("link", ev.Link))
				m.updateLink(ev.Link)
				m.mu.Unlock()
			}
		}
	}
	m.PostUpdateRequest()
}

// linkAdded pushes the current cached source values onto a new link and
// mirrors the source channel's invalidated flag. Requires m.mu.
func (m *Manager) linkAdded(link *workflow.Link) {
	if _, ok := m.extras[link]; !ok {
		m.extras[link] = &linkExtra{}
	}
	link.SetRuntimeState(workflow.LinkEmpty)
	state := m.outputState(link.SourceNode(), link.SourceChannel())
	link.SetRuntimeStateFlag(workflow.LinkInvalidated, state.invalidated)

	signals := m.signalsOnLink(link)
	for i := range signals {
		signals[i].Kind = New
		if !link.IsEnabled() {
			// Keep input consistency on a disabled link by delivering a
			// placeholder; the real value follows when it is re-enabled.
			signals[i].Value = nil
		}
	}
	if len(signals) > 0 {
		m.logger.Info("scheduling signal data update", zap.Stringer("link", link))
	}
	m.schedule(signals)
}

// updateLink reschedules the current cached contents of link as Update
// signals. Requires m.mu.
func (m *Manager) updateLink(link *workflow.Link) {
	signals := m.signalsOnLink(link)
	for i := range signals {
		signals[i].Kind = Update
	}
	m.schedule(signals)
}

func (m *Manager) outputState(node workflow.Node, ch *channel.Output) *outputState {
	states, ok := m.outputs[node]
	if !ok {
		states = make(map[*channel.Output]*outputState)
		m.outputs[node] = states
	}
	state, ok := states[ch]
	if !ok {
		state = newOutputState()
		states[ch] = state
	}
	return state
}

// Send records value as node's current output on ch and schedules a
// correspondingly typed signal for every enabled outgoing link of the
// channel. The first value on a channel is delivered as New, later ones as
// Update. Sending under a different id while a value is cached fails with
// ErrMultipleOutputIDs. Optional ids beyond the first argument are not
// supported; pass nil when unused.
func (m *Manager) Send(node workflow.Node, ch *channel.Output, value, id any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workflow == nil {
		return fmt.Errorf("send: %w", ErrNoWorkflow)
	}
	m.logger.Debug("sending output",
		zap.String("node", node.Title()),
		zap.String("channel", ch.Name()),
		zap.Any("id", id))

	state := m.outputState(node, ch)
	if _, ok := state.outputs[id]; !ok && len(state.outputs) > 0 {
		return fmt.Errorf("send on channel %q: %w", ch.Name(), ErrMultipleOutputIDs)
	}
	kind := New
	if _, ok := state.outputs[id]; ok {
		kind = Update
	}
	state.outputs[id] = value
	if state.invalidated {
		m.logger.Debug("clearing invalidated flag",
			zap.String("node", node.Title()),
			zap.String("channel", ch.Name()))
		state.invalidated = false
	}

	links := m.workflow.FindLinks(workflow.LinkFilter{SourceNode: node, SourceChannel: ch})
	var signals []Signal
	for _, link := range links {
		extra := m.extra(link)
		index := indexAmongInputLinks(m.workflow, link)
		switch {
		case !link.IsEnabled() && !extra.didScheduleNew:
			// The sink still needs a New to learn of the connection; the
			// real value follows when the link is enabled.
			signals = append(signals, Signal{Kind: New, Link: link, Value: nil, ID: id, Index: index})
		case link.IsEnabled():
			signals = append(signals, Signal{Kind: kind, Link: link, Value: value, ID: id, Index: index})
		default:
			continue
		}
		link.SetRuntimeStateFlag(workflow.LinkInvalidated, false)
	}
	m.schedule(signals)
	return nil
}

// Invalidate marks node's output channel ch as changed but not yet
// available. Dependents are withheld from updates until a new value is
// sent. Every link from the channel gets the Invalidated runtime flag.
func (m *Manager) Invalidate(node workflow.Node, ch *channel.Output) {
	m.mu.Lock()
	m.logger.Debug("invalidating channel",
		zap.String("node", node.Title()),
		zap.String("channel", ch.Name()))
	m.outputState(node, ch).invalidated = true
	wf := m.workflow
	if wf != nil {
		links := wf.FindLinks(workflow.LinkFilter{SourceNode: node, SourceChannel: ch})
		for _, link := range links {
			link.SetRuntimeStateFlag(workflow.LinkInvalidated, true)
		}
	}
	m.mu.Unlock()
	m.PostUpdateRequest()
}

func (m *Manager) extra(link *workflow.Link) *linkExtra {
	extra, ok := m.extras[link]
	if !ok {
		extra = &linkExtra{}
		m.extras[link] = extra
	}
	return extra
}

func indexAmongInputLinks(wf *workflow.Scheme, link *workflow.Link) int {
	inputs := wf.InputLinks(link.SinkNode())
	for i, l := range inputs {
		if l == link {
			return i
		}
	}
	return -1
}

// signalsOnLink builds Signal records for the values currently cached on
// link's source channel. Requires m.mu.
func (m *Manager) signalsOnLink(link *workflow.Link) []Signal {
	if m.workflow == nil {
		return nil
	}
	index := indexAmongInputLinks(m.workflow, link)
	var out []Signal
	for id, value := range m.linkContents(link) {
		out = append(out, Signal{Kind: Update, Link: link, Value: value, ID: id, Index: index})
	}
	return out
}

// SignalsOnLink returns Signal records for the values currently present on
// link.
func (m *Manager) SignalsOnLink(link *workflow.Link) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signalsOnLink(link)
}

// linkContents returns the cached values on link's source channel, keyed by
// signal id. If the source node was already removed the queued final
// deliveries for the link fill in. Requires m.mu.
func (m *Manager) linkContents(link *workflow.Link) map[any]any {
	if states, ok := m.outputs[link.SourceNode()]; ok {
		if state, ok := states[link.SourceChannel()]; ok {
			return state.outputs
		}
		return map[any]any{}
	}
	out := make(map[any]any)
	for _, sig := range m.queue {
		if sig.Link == link {
			out[sig.ID] = sig.Value
		}
	}
	return out
}

// LinkContents returns the values currently present on link, keyed by
// signal id.
func (m *Manager) LinkContents(link *workflow.Link) map[any]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	contents := m.linkContents(link)
	out := make(map[any]any, len(contents))
	for k, v := range contents {
		out[k] = v
	}
	return out
}

// schedule appends signals to the input queue and updates link and node
// runtime flags: a link with any non-nil content becomes Active, otherwise
// Empty, and both it and its sink node gain the Pending flag. Requires
// m.mu.
func (m *Manager) schedule(signals []Signal) {
	m.queue = append(m.queue, signals...)

	for _, sig := range signals {
		if sig.Kind == New {
			m.extra(sig.Link).didScheduleNew = true
		}
	}
	links := make(map[*workflow.Link]bool)
	sinks := make(map[workflow.Node]bool)
	for _, sig := range signals {
		links[sig.Link] = true
		sinks[sig.Link.SinkNode()] = true
	}
	for link := range links {
		state := workflow.LinkEmpty
		for _, value := range m.linkContents(link) {
			if value != nil {
				state = workflow.LinkActive
				break
			}
		}
		link.SetRuntimeState(state | workflow.LinkPending)
	}
	for node := range sinks {
		node.SetStateFlags(workflow.Pending, true)
	}
	if len(signals) > 0 {
		m.postUpdateRequest()
	}
}

// IsPending reports whether node has any queued input signals.
func (m *Manager) IsPending(node workflow.Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range m.queue {
		if sig.Link.SinkNode() == node {
			return true
		}
	}
	return false
}

// PendingNodes returns the nodes with queued input signals in enqueue
// order.
func (m *Manager) PendingNodes() []workflow.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingNodes()
}

func (m *Manager) pendingNodes() []workflow.Node {
	seen := make(map[workflow.Node]bool)
	var out []workflow.Node
	for _, sig := range m.queue {
		node := sig.Link.SinkNode()
		if !seen[node] {
			seen[node] = true
			out = append(out, node)
		}
	}
	return out
}

// PendingInputSignals returns node's queued input signals in enqueue
// order.
func (m *Manager) PendingInputSignals(node workflow.Node) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingInputSignals(node)
}

func (m *Manager) pendingInputSignals(node workflow.Node) []Signal {
	var out []Signal
	for _, sig := range m.queue {
		if sig.Link.SinkNode() == node {
			out = append(out, sig)
		}
	}
	return out
}

func (m *Manager) removePendingSignals(node workflow.Node) {
	remaining := m.queue[:0]
	for _, sig := range m.queue {
		if sig.Link.SinkNode() != node {
			remaining = append(remaining, sig)
		}
	}
	m.queue = remaining
}

// RemovePendingSignals discards node's queued input signals without
// delivering them.
func (m *Manager) RemovePendingSignals(node workflow.Node) {
	m.mu.Lock()
	m.removePendingSignals(node)
	m.mu.Unlock()
}

// HasPending reports whether any signal awaits delivery.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}

// State returns the manager's lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// RuntimeState reports whether a delivery is currently in flight.
func (m *Manager) RuntimeState() RuntimeState { return RuntimeState(m.runtimeState.Load()) }

// Start begins (or resumes after Stop) the update loop.
func (m *Manager) Start() {
	if m.State() != Running {
		m.state.Store(int32(Running))
		m.logger.Info("signal manager started")
		m.PostUpdateRequest()
	}
}

// Stop halts the update loop. A delivery already in flight completes, but
// no further scheduling passes run until Start is called again.
func (m *Manager) Stop() {
	if m.State() != Stopped {
		m.state.Store(int32(Stopped))
		m.logger.Info("signal manager stopped")
		m.stopTimer()
	}
}

// Pause suspends deliveries while continuing to track sends and structural
// changes.
func (m *Manager) Pause() {
	if m.State() != Paused {
		m.state.Store(int32(Paused))
		m.logger.Info("signal manager paused")
		m.stopTimer()
	}
}

// Resume continues deliveries after Pause.
func (m *Manager) Resume() {
	if m.State() == Paused {
		m.state.Store(int32(Running))
		m.logger.Info("signal manager resumed")
		m.PostUpdateRequest()
	}
}

// Step delivers signals to a single node. Only applicable while Paused.
func (m *Manager) Step(ctx context.Context) error {
	if m.State() == Paused {
		return m.ProcessQueued(ctx)
	}
	return nil
}

// ProcessQueued takes the first eligible node from the pending queue and
// delivers all its scheduled signals, ignoring the concurrency cap.
// Calling it while a delivery is in flight fails with
// ErrReentrantProcessing; calling it while Stopped fails with ErrStopped.
func (m *Manager) ProcessQueued(ctx context.Context) error {
	if m.RuntimeState() == Processing {
		return ErrReentrantProcessing
	}
	if m.State() == Stopped {
		return fmt.Errorf("process queued: %w", ErrStopped)
	}
	_, err := m.ProcessNext(ctx)
	return err
}

// ProcessNext delivers the scheduled signals of the first eligible node
// and reports whether one was found. The concurrency cap is not applied.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	return m.processNextHelper(ctx, false)
}

func (m *Manager) processNextHelper(ctx context.Context, useMaxActive bool) (bool, error) {
	m.mu.Lock()
	node, ok := m.selectNext(useMaxActive)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	err := m.ProcessNode(ctx, node)
	m.maybeFinished()
	return true, err
}

// selectNext picks the node for the next delivery: an already active
// eligible node is preferred since its fresher inputs preempt the running
// task; otherwise the first eligible node starts, subject to the
// concurrency cap. Requires m.mu.
func (m *Manager) selectNext(useMaxActive bool) (workflow.Node, bool) {
	var eligible []workflow.Node
	for _, node := range m.nodeUpdateFront() {
		if m.isReady(node) {
			eligible = append(eligible, node)
		}
	}
	if len(eligible) == 0 {
		return nil, false
	}
	active := make(map[workflow.Node]bool)
	for _, node := range m.workflowNodes() {
		if m.isActive(node) || m.isBlockingNode(node) {
			active[node] = true
		}
	}
	maxActive := m.resolveMaxActive()
	m.logger.Debug("process next",
		zap.Int("queued", len(m.queue)),
		zap.Int("active", len(active)),
		zap.Int("max_active", maxActive),
		zap.Int("eligible", len(eligible)))

	var selected workflow.Node
	for _, node := range eligible {
		if m.isActive(node) {
			selected = node
			break
		}
	}
	if useMaxActive && len(active) >= maxActive && selected == nil {
		return nil, false
	}
	if selected == nil {
		selected = eligible[0]
	}
	return selected, true
}

// ProcessNode pops, compresses and delivers all queued signals for node.
// Dynamic links re-validate the delivered value against the sink types:
// a failing value is replaced with nil and the link's dynamic enabled flag
// cleared. Delegate errors propagate to the caller; the node's Pending
// flag and the Waiting runtime state are restored regardless.
func (m *Manager) ProcessNode(ctx context.Context, node workflow.Node) error {
	if !m.runtimeState.CompareAndSwap(int32(Waiting), int32(Processing)) {
		return ErrReentrantProcessing
	}

	m.mu.Lock()
	signals := m.pendingInputSignals(node)
	m.removePendingSignals(node)
	signals = CompressSignals(signals)
	m.logger.Debug("processing node",
		zap.String("node", node.Title()),
		zap.Int("signals", len(signals)))
	consumed := make(map[*workflow.Link]bool)
	for _, sig := range signals {
		consumed[sig.Link] = true
	}
	for link := range consumed {
		link.SetRuntimeStateFlag(workflow.LinkPending, false)
	}
	signals = processDynamic(signals)
	m.mu.Unlock()

	if m.cfg.OnProcessingStarted != nil {
		m.cfg.OnProcessingStarted(node)
	}
	if m.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = m.cfg.Tracer.Start(ctx, "execution.deliver",
			trace.WithAttributes(
				attribute.String("node.title", node.Title()),
				attribute.String("node.id", node.ID().String()),
				attribute.Int("signal.count", len(signals)),
			))
		defer span.End()
	}
	defer func() {
		node.SetStateFlags(workflow.Pending, false)
		if m.cfg.OnProcessingFinished != nil {
			m.cfg.OnProcessingFinished(node)
		}
		m.runtimeState.Store(int32(Waiting))
		m.PostUpdateRequest()
	}()
	return m.delegate.SendToNode(ctx, node, signals)
}

// processDynamic re-validates dynamic links against the value actually
// delivered: the dynamic enabled flag follows the type check, and failing
// values are cleared to nil.
func processDynamic(signals []Signal) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, sig := range signals {
		link := sig.Link
		if link.IsDynamic() {
			enabled := link.Registry().CheckValue(sig.Value, link.SinkChannel().Types())
			link.SetDynamicEnabled(enabled)
			if !enabled {
				sig.Value = nil
			}
		}
		out = append(out, sig)
	}
	return out
}

// NodeUpdateFront returns the nodes eligible for the next delivery:
// pending nodes with no enabled-link ancestor that is itself pending,
// blocking or invalidated. An ancestor in the same strongly connected
// component does not count as pending, so feedback cycles keep making
// progress.
func (m *Manager) NodeUpdateFront() []workflow.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeUpdateFront()
}

func (m *Manager) nodeUpdateFront() []workflow.Node {
	if m.workflow == nil {
		return nil
	}
	wf := m.workflow
	nodes := wf.Nodes()
	expand := func(node workflow.Node) []workflow.Node {
		var out []workflow.Node
		for _, link := range wf.OutputLinks(node) {
			if link.IsEnabled() {
				out = append(out, link.SinkNode())
			}
		}
		return out
	}
	// Transitive dependents over enabled links, the node itself excluded:
	// invalidated outputs hold back dependents, not the node's own inputs.
	dependents := func(node workflow.Node) []workflow.Node {
		return graph.CollectBF(node, expand)[1:]
	}

	components := graph.StronglyConnectedComponents(nodes, expand)
	nodeSCC := make(map[workflow.Node][]workflow.Node)
	for _, scc := range components {
		for _, node := range scc {
			nodeSCC[node] = scc
		}
	}

	blocked := make(map[workflow.Node]bool)
	for _, node := range nodes {
		if m.isBlockingNode(node) || m.isInvalidatedNode(node) {
			for _, dep := range dependents(node) {
				blocked[dep] = true
			}
		}
	}

	pending := m.pendingNodes()
	pendingDownstream := make(map[workflow.Node]bool)
	for _, node := range pending {
		depend := make(map[workflow.Node]bool)
		for _, dep := range dependents(node) {
			if dep != node {
				depend[dep] = true
			}
		}
		if scc := nodeSCC[node]; len(scc) > 1 {
			// A pending node in a cycle has a circular dependency on
			// itself; discounting its component mates lets the cycle make
			// progress.
			for _, mate := range scc {
				delete(depend, mate)
			}
		}
		for dep := range depend {
			pendingDownstream[dep] = true
		}
	}

	var ready []workflow.Node
	for _, node := range pending {
		if !pendingDownstream[node] && !blocked[node] && !m.isBlockingNode(node) {
			ready = append(ready, node)
		}
	}
	return ready
}

// isBlockingNode consults the delegate's Blocker refinement.
func (m *Manager) isBlockingNode(node workflow.Node) bool {
	if b, ok := m.delegate.(Blocker); ok {
		return b.IsBlocking(node)
	}
	return false
}

// isReady consults the delegate's Readier refinement, defaulting to the
// node's NotReady flag being clear.
func (m *Manager) isReady(node workflow.Node) bool {
	if r, ok := m.delegate.(Readier); ok {
		return r.IsReady(node)
	}
	return !node.TestState(workflow.NotReady)
}

// isActive reports whether node is executing a task.
func (m *Manager) isActive(node workflow.Node) bool {
	return node.TestState(workflow.Running)
}

// isInvalidatedNode reports whether node carries invalidated outputs or is
// itself flagged Invalidated.
func (m *Manager) isInvalidatedNode(node workflow.Node) bool {
	if node.TestState(workflow.Invalidated) {
		return true
	}
	for _, state := range m.outputs[node] {
		if state.invalidated {
			return true
		}
	}
	return false
}

// InvalidatedNodes returns the nodes with invalidated outputs or state.
func (m *Manager) InvalidatedNodes() []workflow.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workflow.Node
	for _, node := range m.workflowNodes() {
		if m.isInvalidatedNode(node) {
			out = append(out, node)
		}
	}
	return out
}

// BlockingNodes returns the nodes the delegate reports as blocking
// output updates.
func (m *Manager) BlockingNodes() []workflow.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workflow.Node
	for _, node := range m.workflowNodes() {
		if m.isBlockingNode(node) {
			out = append(out, node)
		}
	}
	return out
}

// ActiveNodes returns the nodes currently executing a task.
func (m *Manager) ActiveNodes() []workflow.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workflow.Node
	for _, node := range m.workflowNodes() {
		if m.isActive(node) {
			out = append(out, node)
		}
	}
	return out
}

func (m *Manager) workflowNodes() []workflow.Node {
	if m.workflow == nil {
		return nil
	}
	return m.workflow.Nodes()
}

// SetMaxActive overrides the concurrency limit. A negative value means
// "number of CPUs plus the value", floored at one.
func (m *Manager) SetMaxActive(v int) {
	m.mu.Lock()
	changed := m.maxActive == nil || *m.maxActive != v
	m.maxActive = &v
	m.mu.Unlock()
	if changed {
		m.PostUpdateRequest()
	}
}

// MaxActive returns the effective concurrency limit, resolved from the
// explicit override, then the MAX_ACTIVE_NODES environment variable, then
// the persisted setting, defaulting to one.
func (m *Manager) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveMaxActive()
}

func (m *Manager) resolveMaxActive() int {
	var value *int
	if m.maxActive != nil {
		value = m.maxActive
	}
	if value == nil {
		if env, err := strconv.Atoi(os.Getenv(MaxActiveEnvVar)); err == nil {
			value = &env
		}
	}
	if value == nil && m.cfg.Settings != nil {
		if v, ok := m.cfg.Settings.MaxActiveNodes(); ok {
			value = &v
		}
	}
	v := 1
	if value != nil {
		v = *value
	}
	if v < 0 {
		v = runtime.NumCPU() + v
	}
	if v < 1 {
		v = 1
	}
	return v
}

// PostUpdateRequest schedules a debounced scheduling pass. Call it
// whenever node eligibility might have changed out of band; bursts of
// requests coalesce into a single pass.
func (m *Manager) PostUpdateRequest() {
	if m.State() != Running {
		return
	}
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timerPending {
		return
	}
	m.timerPending = true
	if m.timer == nil {
		m.timer = time.AfterFunc(m.cfg.UpdateDelay, m.onTimer)
	} else {
		m.timer.Reset(m.cfg.UpdateDelay)
	}
}

func (m *Manager) postUpdateRequest() { m.PostUpdateRequest() }

func (m *Manager) stopTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerPending = false
}

// onTimer runs one scheduling pass and reschedules itself while work
// remains.
func (m *Manager) onTimer() {
	m.timerMu.Lock()
	m.timerPending = false
	m.timerMu.Unlock()

	if m.State() != Running {
		m.logger.Debug("update request while not running")
		return
	}
	if m.RuntimeState() == Processing {
		// Re-entered from an input handler; the exiting delivery posts a
		// new request.
		m.logger.Warn("update request while processing, rescheduling")
		return
	}
	if !m.HasPending() {
		return
	}
	m.mu.Lock()
	if m.hasFinished {
		m.hasFinished = false
		m.mu.Unlock()
		if m.cfg.OnStarted != nil {
			m.cfg.OnStarted()
		}
	} else {
		m.mu.Unlock()
	}

	processed, err := m.processNextHelper(context.Background(), true)
	if err != nil {
		m.logger.Error("signal delivery failed", zap.Error(err))
	}
	if processed {
		m.PostUpdateRequest()
	}
}

// maybeFinished fires OnFinished once when no node remains pending, active
// or blocking.
func (m *Manager) maybeFinished() {
	m.mu.Lock()
	if m.hasFinished {
		m.mu.Unlock()
		return
	}
	busy := len(m.queue) > 0
	if !busy {
		for _, node := range m.workflowNodes() {
			if m.isActive(node) || m.isBlockingNode(node) {
				busy = true
				break
			}
		}
	}
	if busy {
		m.mu.Unlock()
		return
	}
	m.hasFinished = true
	m.mu.Unlock()
	if m.cfg.OnFinished != nil {
		m.cfg.OnFinished()
	}
}
