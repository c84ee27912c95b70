// Package transport provides the control plane's default
// distributor.Transport: a logging implementation that records every
// dispatch/rollback it is asked to perform instead of reaching an agent
// over the network. The concrete agent transport (MDM push, a
// websocket push channel, etc.) is explicitly out of scope; this
// stands in so the Distributor is wireable end to end, the same role
// automation.FunctionRunner's nil-safe default plays in the teacher
// repo when no runner is configured.
package transport

import (
	"context"

	"github.com/cleanfleet/control-plane/internal/app/services/distributor"
	"github.com/cleanfleet/control-plane/pkg/logger"
)

// Logging is a distributor.Transport that logs the dispatch/rollback it
// was asked to perform and always succeeds; actual agents receive their
// pending work the next time they heartbeat and their response is
// carried back to the distributor via the HTTP ack/complete endpoints.
type Logging struct {
	log *logger.Logger
}

// New constructs a Logging transport. A nil logger falls back to a
// component-scoped default.
func New(log *logger.Logger) *Logging {
	if log == nil {
		log = logger.NewDefault("distribution-transport")
	}
	return &Logging{log: log}
}

var _ distributor.Transport = (*Logging)(nil)

// Dispatch records that job was handed off for agentID. Delivery
// confirmation is heartbeat-driven, not transport-driven, so this never
// blocks on the agent actually applying anything.
func (t *Logging) Dispatch(ctx context.Context, agentID string, job distributor.Job) error {
	t.log.With("distribution-transport").WithField("agentId", agentID).
		WithField("distributionId", job.DistributionID).
		WithField("policyName", job.PolicyName).
		WithField("version", job.Version).
		Info("dispatched policy version to agent")
	return nil
}

// Rollback records that agentID was asked to roll back to toVersion.
func (t *Logging) Rollback(ctx context.Context, agentID string, distributionID string, toVersion int) error {
	t.log.With("distribution-transport").WithField("agentId", agentID).
		WithField("distributionId", distributionID).
		WithField("toVersion", toVersion).
		Info("requested rollback for agent")
	return nil
}
