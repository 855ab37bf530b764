package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

var tracer = otel.Tracer("github.com/keithlinneman/sitedeploy/internal/plugin")

// ErrHook matches every *HookError with errors.Is
var ErrHook = errors.New("plugin hook failed")

// HookError identifies the plugin and event that aborted a dispatch
type HookError struct {
	Plugin string
	Event  Event
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func (e *HookError) Is(target error) bool { return target == ErrHook }

type Options struct {
	Logger  log.Logger
	Loaders []Loader

	// OnHookError is called once per failed hook, e.g. to count failures
	OnHookError func(plugin string, ev Event)
}

// Manager holds the active plugin sequence. Dispatch reads a snapshot so
// concurrent file deploys never observe a half-reloaded list.
type Manager struct {
	mu          sync.RWMutex
	loaders     []Loader
	plugins     []Plugin
	logger      log.Logger
	onHookError func(string, Event)
}

// NewManager builds the sequence from opts.Loaders immediately
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	m := &Manager{
		loaders:     opts.Loaders,
		logger:      opts.Logger,
		onHookError: opts.OnHookError,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetLoaders replaces the loader sources. The active sequence changes on the next Reload.
func (m *Manager) SetLoaders(loaders ...Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders = loaders
}

// Reload re-flattens every loader, in loader order, into the active sequence.
// On error the previous sequence stays active.
func (m *Manager) Reload() error {
	m.mu.RLock()
	loaders := m.loaders
	m.mu.RUnlock()

	var next []Plugin
	for i, l := range loaders {
		ps, err := l.Load()
		if err != nil {
			return xerrors.Wrapf(err, "load plugins from source %d", i)
		}
		next = append(next, ps...)
	}

	m.mu.Lock()
	m.plugins = next
	m.mu.Unlock()

	m.logger.Debug(context.Background(), "plugins reloaded", "count", len(next), "names", names(next))
	return nil
}

// Plugins returns a copy of the active sequence
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, len(m.plugins))
	copy(out, m.plugins)
	return out
}

func (m *Manager) PreDeploy(ctx context.Context, site Site) error {
	return m.dispatch(ctx, EventPreDeploy, func(ctx context.Context, p Plugin) error { return p.PreDeploy(ctx, site) })
}

func (m *Manager) PreDeployFile(ctx context.Context, f File) error {
	return m.dispatch(ctx, EventPreDeployFile, func(ctx context.Context, p Plugin) error { return p.PreDeployFile(ctx, f) })
}

func (m *Manager) PostDeployFile(ctx context.Context, f File) error {
	return m.dispatch(ctx, EventPostDeployFile, func(ctx context.Context, p Plugin) error { return p.PostDeployFile(ctx, f) })
}

func (m *Manager) PostDeploy(ctx context.Context, site Site, s Summary) error {
	return m.dispatch(ctx, EventPostDeploy, func(ctx context.Context, p Plugin) error { return p.PostDeploy(ctx, site, s) })
}

// dispatch calls invoke for each plugin implementing ev, in order, and
// returns the first failure as a *HookError
func (m *Manager) dispatch(ctx context.Context, ev Event, invoke func(context.Context, Plugin) error) error {
	m.mu.RLock()
	seq := m.plugins
	m.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "plugin."+string(ev))
	defer span.End()

	ran := 0
	for _, p := range seq {
		if !p.Implements(ev) {
			continue
		}
		ran++
		if err := call(ctx, p, invoke); err != nil {
			herr := &HookError{Plugin: p.Name, Event: ev, Err: err}
			if m.onHookError != nil {
				m.onHookError(p.Name, ev)
			}
			span.RecordError(herr, trace.WithAttributes(attribute.String("plugin", p.Name)))
			span.SetStatus(codes.Error, "hook failed")
			return xerrors.WithStack(herr)
		}
	}
	span.SetAttributes(attribute.Int("hooks", ran))
	return nil
}

// call converts a panicking hook into an error so one bad plugin fails the
// file instead of the process
func call(ctx context.Context, p Plugin, invoke func(context.Context, Plugin) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return invoke(ctx, p)
}

func names(ps []Plugin) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}
