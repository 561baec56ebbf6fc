package coordinator

import (
	"context"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

// AgentContext is the handle an agent holds on the platform. Submissions go
// through the coordinator's full check chain; reports and commands arrive on
// the agent's private channels.
type AgentContext struct {
	agentID string
	coord   *Coordinator

	cmdCh    chan Command
	reportCh chan domain.ExecutionReport
}

func (c *AgentContext) AgentID() string {
	return c.agentID
}

// SubmitOrder runs the intent through governance, risk, and breaker checks
// and, if approved, executes it synchronously. The returned report is also
// delivered on the agent's report channel.
func (c *AgentContext) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.ExecutionReport, error) {
	intent.AgentID = c.agentID
	return c.coord.SubmitOrder(ctx, intent)
}

// EnqueueIntent hands the intent to the coordinator's run loop without
// blocking. Returns ErrQueueFull when the intake buffer is saturated.
func (c *AgentContext) EnqueueIntent(intent domain.OrderIntent) error {
	intent.AgentID = c.agentID
	return c.coord.EnqueueIntent(intent)
}

// ReportState pushes a health snapshot. Dropped silently when the state
// buffer is full; the next heartbeat supersedes it anyway.
func (c *AgentContext) ReportState(snapshot AgentSnapshot) {
	snapshot.AgentID = c.agentID
	c.coord.pushState(snapshot)
}

func (c *AgentContext) ReadGlobalState() GlobalState {
	return c.coord.ReadState()
}

// RecvCommand blocks until a coordinator command arrives or ctx is done.
func (c *AgentContext) RecvCommand(ctx context.Context) (Command, error) {
	select {
	case cmd := <-c.cmdCh:
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

func (c *AgentContext) TryRecvCommand() (Command, bool) {
	select {
	case cmd := <-c.cmdCh:
		return cmd, true
	default:
		return Command{}, false
	}
}

// RecvReport blocks until an execution report arrives or ctx is done.
func (c *AgentContext) RecvReport(ctx context.Context) (domain.ExecutionReport, error) {
	select {
	case report := <-c.reportCh:
		return report, nil
	case <-ctx.Done():
		return domain.ExecutionReport{}, ctx.Err()
	}
}

func (c *AgentContext) TryRecvReport() (domain.ExecutionReport, bool) {
	select {
	case report := <-c.reportCh:
		return report, true
	default:
		return domain.ExecutionReport{}, false
	}
}
