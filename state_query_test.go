package bootready

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticState answers StateQuery from fixed data and nothing else.
type staticState struct {
	modules  []Module
	features map[string]FeatureState
	services []ServiceRef
}

var _ StateQuery = staticState{}

func (s staticState) Modules(context.Context) ([]Module, error) { return s.modules, nil }

func (s staticState) FeatureState(_ context.Context, name, version string) (FeatureState, error) {
	return s.features[Feature{Name: name, Version: version}.ID()], nil
}

func (s staticState) FindServices(context.Context, ServiceKind, string) ([]ServiceRef, error) {
	return s.services, nil
}

func TestEvaluators_ReadOnlyStateQuery(t *testing.T) {
	ctx := context.Background()
	state := staticState{
		modules: []Module{
			{Name: "core", State: ModuleStateActive},
			{Name: "core.l10n", State: ModuleStateResolved, Headers: map[string]string{HeaderFragmentHost: "core"}},
			{Name: "slow", State: ModuleStateStarting},
		},
		services: []ServiceRef{
			{Kind: ServiceKindManagedService, Properties: map[string]any{PropServicePID: "org.example.cache"}},
		},
	}

	t.Run("modules", func(t *testing.T) {
		e := &moduleEvaluator{state: state, logger: nopLogger{}}

		targets, err := e.targets(ctx, "wait", []string{"core", "core.l10n"})
		require.NoError(t, err)
		ready, err := e.condition("wait", targets)(ctx)
		require.NoError(t, err)
		assert.True(t, ready, "header fragment in Resolved counts as ready")

		all, err := e.targets(ctx, "wait", nil)
		require.NoError(t, err)
		ready, err = e.condition("wait", all)(ctx)
		require.NoError(t, err)
		assert.False(t, ready)
	})

	t.Run("services", func(t *testing.T) {
		e := &serviceEvaluator{state: state, logger: nopLogger{}, mode: ServiceQueryPoll}

		cond, err := e.condition(ctx, "wait", "org.example.cache")
		require.NoError(t, err)
		ready, err := cond(ctx)
		require.NoError(t, err)
		assert.True(t, ready)
	})
}
