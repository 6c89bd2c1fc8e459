package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/fleet-upgrader/internal/fleet"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
	"github.com/Sh00ty/fleet-upgrader/internal/store/inmemory"
)

func TestAgentFollowsControl(t *testing.T) {
	var (
		ctx = context.Background()
		kv  = inmemory.NewKVFrom(map[string]string{
			"/current_version":                   "2",
			"/config_state/enable_puppet/global": "false",
		})
		reg = fleet.NewRegistry(kv, registry.NewControlKeys(registry.DefaultControlPrefix))
		a   = New("h1", "1", reg, time.Millisecond, zerolog.Nop())
	)

	require.NoError(t, a.runIteration(ctx, "run-1"))
	assert.Equal(t, map[string][]string{"1": {"h1"}}, mustHostsByVersion(t, reg))

	_, err := reg.SetControl(ctx, fleet.ScopeHost, "h1", registry.ControlEnabled)
	require.NoError(t, err)

	require.NoError(t, a.runIteration(ctx, "run-2"))
	assert.Equal(t, map[string][]string{"2": {"h1"}}, mustHostsByVersion(t, reg))
}

func TestAgentRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		kv = inmemory.NewKVFrom(map[string]string{
			"/current_version":                   "2",
			"/config_state/enable_puppet/role/h": "true",
		})
		reg  = fleet.NewRegistry(kv, registry.NewControlKeys(registry.DefaultControlPrefix))
		a    = New("h1", "1", reg, time.Millisecond, zerolog.Nop())
		done = make(chan error, 1)
	)
	go func() {
		done <- a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		hosts, err := reg.HostsAtVersion(context.Background(), "2")
		return err == nil && len(hosts) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent ignored cancellation")
	}
}

func mustHostsByVersion(t *testing.T, reg *fleet.Registry) map[string][]string {
	t.Helper()
	hosts, err := reg.HostsByVersion(context.Background())
	require.NoError(t, err)
	return hosts
}
