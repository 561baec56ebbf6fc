package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/proerror77/ploy-sub002/internal/agent"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/monitor"
)

// Subscription filters the events an agent receives. Empty domain and
// market sets mean "all".
type Subscription struct {
	Domains      []domain.Domain
	Markets      []string
	ReceiveTicks bool
}

func (s Subscription) Matches(event domain.DomainEvent) bool {
	if event.IsTick() {
		return s.ReceiveTicks
	}
	if len(s.Domains) > 0 && !containsDomain(s.Domains, event.Domain) {
		return false
	}
	if len(s.Markets) > 0 && event.MarketID != "" && !containsString(s.Markets, event.MarketID) {
		return false
	}
	return true
}

func containsDomain(list []domain.Domain, d domain.Domain) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type Stats struct {
	Registered       int
	Active           int
	EventsDispatched uint64
	IntentsCollected uint64
	HandlerErrors    uint64
}

type registration struct {
	agent agent.Agent
	sub   Subscription
}

// Router dispatches domain events to registered agents and collects the
// intents they produce. One agent's handler failure never blocks the rest.
type Router struct {
	mu     sync.RWMutex
	agents map[string]*registration

	eventsDispatched uint64
	intentsCollected uint64
	handlerErrors    uint64

	metrics *monitor.Metrics
	logger  *slog.Logger
}

func New(metrics *monitor.Metrics, logger *slog.Logger) *Router {
	return &Router{
		agents:  make(map[string]*registration),
		metrics: metrics,
		logger:  logger,
	}
}

func (r *Router) Register(a agent.Agent, sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("agent %s already registered", a.ID())
	}
	r.agents[a.ID()] = &registration{agent: a, sub: sub}

	r.logger.Info("agent registered",
		"agent_id", a.ID(),
		"name", a.Name(),
		"domain", string(a.Domain()),
		"receive_ticks", sub.ReceiveTicks)
	return nil
}

func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		delete(r.agents, agentID)
		r.logger.Info("agent unregistered", "agent_id", agentID)
	}
}

// Dispatch invokes each matching active agent synchronously and returns the
// collected intents. A failing handler is logged and skipped for this event.
func (r *Router) Dispatch(ctx context.Context, event domain.DomainEvent) []domain.OrderIntent {
	r.mu.RLock()
	matched := make([]agent.Agent, 0, len(r.agents))
	for _, reg := range r.agents {
		if !reg.agent.Status().IsActive() {
			continue
		}
		if reg.sub.Matches(event) {
			matched = append(matched, reg.agent)
		}
	}
	r.mu.RUnlock()

	var intents []domain.OrderIntent
	for _, a := range matched {
		produced, err := a.OnEvent(ctx, event)
		if err != nil {
			r.mu.Lock()
			r.handlerErrors++
			r.mu.Unlock()
			r.logger.Error("agent event handler failed, skipping for this event",
				"agent_id", a.ID(),
				"event_type", string(event.Type),
				"error", err)
			continue
		}
		intents = append(intents, produced...)
	}

	r.mu.Lock()
	r.eventsDispatched++
	r.intentsCollected += uint64(len(intents))
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EventsDispatched.WithLabelValues(string(event.Type)).Inc()
	}

	return intents
}

// DeliverExecution routes an execution report to its originating agent.
func (r *Router) DeliverExecution(report domain.ExecutionReport) {
	r.mu.RLock()
	reg, ok := r.agents[report.AgentID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("execution report for unknown agent, dropping",
			"agent_id", report.AgentID, "intent_id", report.IntentID)
		return
	}
	reg.agent.OnExecution(report)
}

func (r *Router) StartAll(ctx context.Context) error {
	r.mu.RLock()
	agents := r.snapshotLocked()
	r.mu.RUnlock()

	for _, a := range agents {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start agent %s: %w", a.ID(), err)
		}
		r.logger.Info("agent started", "agent_id", a.ID())
	}
	return nil
}

func (r *Router) StopAll(ctx context.Context) {
	r.mu.RLock()
	agents := r.snapshotLocked()
	r.mu.RUnlock()

	for _, a := range agents {
		if err := a.Stop(ctx); err != nil {
			r.logger.Error("failed to stop agent", "agent_id", a.ID(), "error", err)
		}
	}
}

func (r *Router) PauseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.agents {
		reg.agent.Pause()
	}
}

func (r *Router) ResumeAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.agents {
		reg.agent.Resume()
	}
}

func (r *Router) Start(ctx context.Context, agentID string) error {
	a, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	return a.Start(ctx)
}

func (r *Router) Stop(ctx context.Context, agentID string) error {
	a, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	return a.Stop(ctx)
}

func (r *Router) Pause(agentID string) error {
	a, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	a.Pause()
	return nil
}

func (r *Router) Resume(agentID string) error {
	a, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	a.Resume()
	return nil
}

func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, reg := range r.agents {
		if reg.agent.Status().IsActive() {
			active++
		}
	}
	return Stats{
		Registered:       len(r.agents),
		Active:           active,
		EventsDispatched: r.eventsDispatched,
		IntentsCollected: r.intentsCollected,
		HandlerErrors:    r.handlerErrors,
	}
}

func (r *Router) lookup(agentID string) (agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not registered", agentID)
	}
	return reg.agent, nil
}

func (r *Router) snapshotLocked() []agent.Agent {
	agents := make([]agent.Agent, 0, len(r.agents))
	for _, reg := range r.agents {
		agents = append(agents, reg.agent)
	}
	return agents
}
