package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/control-plane/internal/app/domain/policy"
	"github.com/cleanfleet/control-plane/internal/app/services/distributor"
)

func TestNewFallsBackToDefaultLoggerWhenNil(t *testing.T) {
	tr := New(nil)
	require.NotNil(t, tr)
	require.NotNil(t, tr.log)
}

func TestDispatchAlwaysSucceeds(t *testing.T) {
	tr := New(nil)
	err := tr.Dispatch(context.Background(), "agent-1", distributor.Job{
		DistributionID: "dist-1",
		PolicyName:     "wipe-caches",
		Version:        3,
		Policy:         policy.Policy{Name: "wipe-caches"},
	})
	assert.NoError(t, err)
}

func TestRollbackAlwaysSucceeds(t *testing.T) {
	tr := New(nil)
	err := tr.Rollback(context.Background(), "agent-1", "dist-1", 2)
	assert.NoError(t, err)
}
