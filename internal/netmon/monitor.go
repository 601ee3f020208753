// Package netmon tracks online/offline state and fires edge-triggered
// callbacks on reconnect. It never polls on a timer: if the platform's
// signal is stale or missed, a queued write stays parked until the next
// observed transition (or an explicit Kick, e.g. on app resume).
package netmon

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Probe is the platform connectivity capability: a point-in-time check.
type Probe interface {
	Online(ctx context.Context) bool
}

// Watcher is implemented by probes that can push change events. Probes
// without it contribute only the one-time read at startup.
type Watcher interface {
	Watch(ctx context.Context) <-chan bool
}

// Monitor owns the boolean isOnline state and the reconnect hooks.
type Monitor struct {
	probe Probe

	mu      sync.Mutex
	online  bool
	started bool
	hooks   []func(context.Context)
}

func New(probe Probe) *Monitor {
	return &Monitor{probe: probe}
}

// OnOnline registers fn to run once per offline→online transition.
// Must be called before Start.
func (m *Monitor) OnOnline(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start performs the initial read and, when the probe supports it,
// subscribes to change events until ctx is cancelled. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.online = m.probe.Online(ctx)
	initial := m.online
	m.mu.Unlock()

	log.Debug().Bool("online", initial).Msg("netmon: initial connectivity")

	if w, ok := m.probe.(Watcher); ok {
		go m.watch(ctx, w.Watch(ctx))
	}
}

// Kick re-reads the probe and applies the result as if it were a pushed
// event. Used on app resume, where a missed transition is likely.
func (m *Monitor) Kick(ctx context.Context) {
	m.apply(ctx, m.probe.Online(ctx))
}

func (m *Monitor) watch(ctx context.Context, ch <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			m.apply(ctx, online)
		}
	}
}

func (m *Monitor) apply(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	var hooks []func(context.Context)
	if online && !was {
		hooks = append(hooks, m.hooks...)
	}
	m.mu.Unlock()

	if online != was {
		log.Info().Bool("online", online).Msg("netmon: connectivity changed")
	}
	// Exactly one invocation per offline→online edge.
	for _, fn := range hooks {
		fn(ctx)
	}
}

// ManualProbe is a Probe/Watcher driven by explicit Set calls. It backs
// tests and hosts whose connectivity is only known at startup.
type ManualProbe struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewManualProbe(online bool) *ManualProbe {
	return &ManualProbe{online: online}
}

func (p *ManualProbe) Online(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *ManualProbe) Watch(ctx context.Context) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan bool, 8)
	p.subs = append(p.subs, ch)
	return ch
}

// Set changes the reported state and notifies watchers.
func (p *ManualProbe) Set(online bool) {
	p.mu.Lock()
	p.online = online
	subs := append([]chan bool(nil), p.subs...)
	p.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- online:
		default: // a slow watcher drops the event rather than blocking
		}
	}
}
