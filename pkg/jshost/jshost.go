// Package jshost is a reference execution host: node computations are
// JavaScript programs run with goja. Each delivery binds the node's
// compressed input signals into the script's scope and routes the script
// result back out through the node's output channels.
package jshost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/execution"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// ScriptProperty is the node property holding an inline script. It takes
// precedence over programs registered by qualified name.
const ScriptProperty = "script"

// Sender routes script outputs back into the signal flow. It is satisfied
// by *execution.Manager.
type Sender interface {
	Send(node workflow.Node, ch *channel.Output, value, id any) error
	Invalidate(node workflow.Node, ch *channel.Output)
}

// Config holds the host's tunables.
type Config struct {
	// Timeout is the per-script execution budget; the VM is interrupted
	// when it elapses.
	Timeout time.Duration
	// Logger receives script console output and host diagnostics.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with a 30 second script budget.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Host implements execution.Delegate by running one JavaScript program per
// node delivery. Programs are looked up by the node's inline script
// property first, then by its description's qualified name. A node with
// neither is treated as an inert sink.
type Host struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	programs map[string]*goja.Program
	inline   map[string]*goja.Program
	sender   Sender
}

// NewHost creates a Host.
func NewHost(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Host{
		cfg:      cfg,
		logger:   cfg.Logger,
		programs: make(map[string]*goja.Program),
		inline:   make(map[string]*goja.Program),
	}
}

// SetSender wires the manager the host reports outputs to. Must be called
// before the first delivery when outputs are expected to propagate.
func (h *Host) SetSender(s Sender) {
	h.mu.Lock()
	h.sender = s
	h.mu.Unlock()
}

// Register compiles script and associates it with the given qualified node
// name.
func (h *Host) Register(qualifiedName, script string) error {
	program, err := goja.Compile(qualifiedName, script, true)
	if err != nil {
		return fmt.Errorf("compile %q: %w", qualifiedName, err)
	}
	h.mu.Lock()
	h.programs[qualifiedName] = program
	h.mu.Unlock()
	return nil
}

// SendToNode runs the node's program with the delivered signals in scope.
// The node carries the Running state flag for the duration of the call.
func (h *Host) SendToNode(ctx context.Context, node workflow.Node, signals []execution.Signal) error {
	program, err := h.lookup(node)
	if err != nil {
		return err
	}
	if program == nil {
		h.logger.Debug("no program for node, inputs consumed",
			zap.String("node", node.Title()))
		return nil
	}

	node.SetStateFlags(workflow.Running, true)
	defer node.SetStateFlags(workflow.Running, false)

	vm := goja.New()
	if err := h.bind(vm, node, signals); err != nil {
		return err
	}

	timer := time.AfterFunc(h.cfg.Timeout, func() {
		vm.Interrupt("execution timeout")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return fmt.Errorf("node %q interrupted: %v", node.Title(), interrupted.Value())
		}
		return fmt.Errorf("node %q script: %w", node.Title(), err)
	}
	return h.route(node, value)
}

// lookup resolves the program for node: inline script property first, then
// the registered program for the node description's qualified name.
func (h *Host) lookup(node workflow.Node) (*goja.Program, error) {
	if script, ok := node.Properties()[ScriptProperty].(string); ok && script != "" {
		return h.compileInline(node, script)
	}
	sn, ok := node.(*workflow.SchemeNode)
	if !ok {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.programs[sn.Description().QualifiedName], nil
}

// compileInline compiles an inline script, caching the result by source so
// repeated deliveries to the same node reuse the compiled program. Edits to
// the script property naturally miss the cache.
func (h *Host) compileInline(node workflow.Node, script string) (*goja.Program, error) {
	h.mu.RLock()
	program, ok := h.inline[script]
	h.mu.RUnlock()
	if ok {
		return program, nil
	}
	program, err := goja.Compile(node.Title(), script, true)
	if err != nil {
		return nil, fmt.Errorf("compile inline script for %q: %w", node.Title(), err)
	}
	h.mu.Lock()
	h.inline[script] = program
	h.mu.Unlock()
	return program, nil
}

// bind populates the VM scope: `inputs` maps sink channel names to the
// latest delivered value, `signals` exposes the raw deliveries, and
// `console.log` forwards to the host logger.
func (h *Host) bind(vm *goja.Runtime, node workflow.Node, signals []execution.Signal) error {
	inputs := make(map[string]any)
	raw := make([]map[string]any, 0, len(signals))
	for _, sig := range signals {
		name := sig.Channel().Name()
		inputs[name] = sig.Value
		raw = append(raw, map[string]any{
			"kind":    sig.Kind.String(),
			"channel": name,
			"value":   sig.Value,
			"index":   sig.Index,
		})
	}
	if err := vm.Set("inputs", inputs); err != nil {
		return err
	}
	if err := vm.Set("signals", raw); err != nil {
		return err
	}
	console := vm.NewObject()
	log := func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		h.logger.Info("console.log",
			zap.String("node", node.Title()),
			zap.Any("args", args))
		return goja.Undefined()
	}
	if err := console.Set("log", log); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// route sends the script result to the node's output channels. An object
// result distributes by key to channels of the same name; any other
// non-null result goes to every output channel.
func (h *Host) route(node workflow.Node, value goja.Value) error {
	h.mu.RLock()
	sender := h.sender
	h.mu.RUnlock()
	if sender == nil {
		return nil
	}
	outputs := node.OutputChannels()
	if len(outputs) == 0 || value == nil {
		return nil
	}
	exported := value.Export()
	if exported == nil {
		return nil
	}
	if byName, ok := exported.(map[string]any); ok {
		for _, ch := range outputs {
			v, ok := byName[ch.Name()]
			if !ok {
				continue
			}
			if err := sender.Send(node, ch, v, nil); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ch := range outputs {
		if err := sender.Send(node, ch, exported, nil); err != nil {
			return err
		}
	}
	return nil
}
