package bootready

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, rt Runtime, opts ...Option) *StdSystemMonitor {
	t.Helper()
	m, err := NewSystemMonitor(rt, append([]Option{WithConfig(testConfig())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestNewSystemMonitor(t *testing.T) {
	t.Run("nil_runtime", func(t *testing.T) {
		_, err := NewSystemMonitor(nil)
		require.ErrorIs(t, err, ErrRuntimeNil)
	})

	t.Run("defaults", func(t *testing.T) {
		m, err := NewSystemMonitor(newFakeRuntime())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), m.Config())
	})

	t.Run("invalid_config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ModulePollInterval = 0
		_, err := NewSystemMonitor(newFakeRuntime(), WithConfig(cfg))
		require.ErrorIs(t, err, ErrNonPositivePoll)
	})

	t.Run("nil_options_keep_defaults", func(t *testing.T) {
		m, err := NewSystemMonitor(newFakeRuntime(), WithLogger(nil), WithMetrics(nil))
		require.NoError(t, err)
		assert.NotNil(t, m.logger)
		assert.NotNil(t, m.metrics)
	})
}

func TestMonitor_StartStopModules(t *testing.T) {
	ctx := context.Background()

	t.Run("starts_installed_names_once_and_skips_unknown", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a"}, Module{Name: "b"})
		metrics := newRecordingMetrics()
		m := newTestMonitor(t, rt, WithMetrics(metrics))

		require.NoError(t, m.StartModules(ctx, "a", "missing", "b", "a"))
		assert.Equal(t, []string{"a", "b"}, rt.started)
		assert.Len(t, metrics.mutations["start-module"], 2)
	})

	t.Run("stop", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a"})
		m := newTestMonitor(t, rt)

		require.NoError(t, m.StopModules(ctx, "a"))
		assert.Equal(t, []string{"a"}, rt.stopped)
	})

	t.Run("rejection_is_mutation_error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a"}, Module{Name: "b"})
		rt.startErr = errFake
		m := newTestMonitor(t, rt)

		err := m.StartModules(ctx, "a", "b")
		require.ErrorIs(t, err, ErrMutation)
		require.ErrorIs(t, err, errFake)
	})

	t.Run("listing_failure_is_resolution_error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.modulesErr = errFake
		m := newTestMonitor(t, rt)

		require.ErrorIs(t, m.StopModules(ctx, "a"), ErrResolution)
	})
}

func TestMonitor_WaitForModules(t *testing.T) {
	ctx := context.Background()

	t.Run("fragment_resolved_and_modules_active_is_ready", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(
			Module{Name: "a", State: ModuleStateActive},
			Module{Name: "frag", State: ModuleStateResolved, Headers: map[string]string{HeaderFragmentHost: "a"}},
		)
		m := newTestMonitor(t, rt)
		require.NoError(t, m.WaitForModules(ctx))
	})

	t.Run("becomes_ready_while_waiting", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a", State: ModuleStateStarting})
		time.AfterFunc(20*time.Millisecond, func() { rt.setModuleState("a", ModuleStateActive) })
		m := newTestMonitor(t, rt)

		require.NoError(t, m.WaitForModules(ctx))
	})

	t.Run("failure_aborts_immediately", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(
			Module{Name: "a", Version: "1.0.0", State: ModuleStateFailure, Headers: map[string]string{"Bundle-Vendor": "acme"}},
			Module{Name: "b", State: ModuleStateActive},
		)
		logger := &recordingLogger{}
		m := newTestMonitor(t, rt, WithLogger(logger))

		start := time.Now()
		err := m.WaitForModulesWithTimeout(ctx, time.Minute)
		require.ErrorIs(t, err, ErrTerminalState)
		assert.Less(t, time.Since(start), 10*time.Second)

		var merr *MonitorError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "wait for modules", merr.Op)
		require.Len(t, merr.Diagnostics, 1)
		assert.Equal(t, "Module: a_v1.0.0 | FAILURE | Headers: [ Bundle-Vendor=acme, ]", merr.Diagnostics[0].String())
		assert.True(t, logger.contains("error", "Module: a_v1.0.0"))
	})

	t.Run("fragment_never_terminal", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "frag", Fragment: true, State: ModuleStateInstalled})
		m := newTestMonitor(t, rt)

		err := m.WaitForModulesWithTimeout(ctx, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
		var merr *MonitorError
		require.ErrorAs(t, err, &merr)
		assert.Empty(t, merr.Diagnostics)
	})

	t.Run("timeout_reports_inactive_modules", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(
			Module{Name: "a", State: ModuleStateResolved},
			Module{Name: "b", State: ModuleStateActive},
		)
		logger := &recordingLogger{}
		m := newTestMonitor(t, rt, WithLogger(logger))

		err := m.WaitForModulesWithTimeout(ctx, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
		var merr *MonitorError
		require.ErrorAs(t, err, &merr)
		require.Len(t, merr.Diagnostics, 1)
		assert.Equal(t, "a", merr.Diagnostics[0].Name)
		assert.Contains(t, err.Error(), "(1 inactive modules)")
		assert.True(t, logger.contains("error", "Listing inactive modules"))
	})

	t.Run("named_subset_ignores_others", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(
			Module{Name: "a", State: ModuleStateActive},
			Module{Name: "b", State: ModuleStateFailure},
		)
		m := newTestMonitor(t, rt)
		require.NoError(t, m.WaitForModules(ctx, "a", "not-installed"))
	})

	t.Run("modules_installed_after_start_are_ignored", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a", State: ModuleStateStarting})
		time.AfterFunc(10*time.Millisecond, func() {
			rt.setModules(
				Module{Name: "a", State: ModuleStateActive},
				Module{Name: "late", State: ModuleStateFailure},
			)
		})
		m := newTestMonitor(t, rt)
		require.NoError(t, m.WaitForModules(ctx))
	})

	t.Run("listing_failure_is_resolution_error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.modulesErr = errFake
		m := newTestMonitor(t, rt)
		err := m.WaitForModules(ctx, "a")
		require.ErrorIs(t, err, ErrResolution)
		require.ErrorIs(t, err, errFake)
	})

	t.Run("cancelled_context_is_interruption", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a", State: ModuleStateStarting})
		m := newTestMonitor(t, rt)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		err := m.WaitForModulesWithTimeout(ctx, time.Minute)
		require.ErrorIs(t, err, ErrInterrupted)
		var merr *MonitorError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "wait for modules", merr.Op)
	})
}

func TestMonitor_CheckModules(t *testing.T) {
	ctx := context.Background()

	t.Run("reports_pending", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(
			Module{Name: "a", Version: "1", State: ModuleStateStarting},
			Module{Name: "b", State: ModuleStateActive},
			Module{Name: "frag", Fragment: true, State: ModuleStateResolved},
		)
		m := newTestMonitor(t, rt)

		diags, err := m.CheckModules(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ModuleDiagnostic{{Name: "a", Version: "1", State: "STARTING"}}, diags)
		assert.Equal(t, 2, rt.moduleLists)
	})

	t.Run("failure", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.setModules(Module{Name: "a", State: ModuleStateFailure})
		m := newTestMonitor(t, rt)

		diags, err := m.CheckModules(ctx)
		require.ErrorIs(t, err, ErrTerminalState)
		assert.Len(t, diags, 1)
	})
}

func TestMonitor_InstallFeatures(t *testing.T) {
	ctx := context.Background()

	t.Run("installs_only_missing_features_without_refresh", func(t *testing.T) {
		rt := newFakeRuntime()
		web := rt.addFeature("web", "1.0.0", FeatureStateUninstalled)
		rt.addFeature("db", "1.0.0", FeatureStateStarted)
		rt.onInstall = func(rt *fakeRuntime, features []Feature) {
			for _, f := range features {
				rt.setFeatureState(f, FeatureStateStarted)
			}
		}
		metrics := newRecordingMetrics()
		m := newTestMonitor(t, rt, WithMetrics(metrics))

		require.NoError(t, m.InstallFeatures(ctx, "web", "db"))
		require.Len(t, rt.installCalls, 1)
		assert.Equal(t, []Feature{web}, rt.installCalls[0])
		assert.Equal(t, []InstallOptions{{NoAutoRefresh: true}}, rt.installOpts)
		assert.Equal(t, []error{nil}, metrics.mutations["install-features"])
	})

	t.Run("nothing_to_install_skips_call", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateStarted)
		m := newTestMonitor(t, rt)

		require.NoError(t, m.InstallFeatures(ctx, "web"))
		assert.Empty(t, rt.installCalls)
	})

	t.Run("duplicate_names_resolve_once", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateUninstalled)
		rt.onInstall = func(rt *fakeRuntime, features []Feature) {
			for _, f := range features {
				rt.setFeatureState(f, FeatureStateStarted)
			}
		}
		m := newTestMonitor(t, rt)

		require.NoError(t, m.InstallFeatures(ctx, "web", "web"))
		require.Len(t, rt.installCalls, 1)
		assert.Len(t, rt.installCalls[0], 1)
	})

	t.Run("unknown_feature_is_resolution_error", func(t *testing.T) {
		rt := newFakeRuntime()
		m := newTestMonitor(t, rt)

		err := m.InstallFeatures(ctx, "missing")
		require.ErrorIs(t, err, ErrResolution)
		assert.Contains(t, err.Error(), "failed to retrieve feature [missing]")
		assert.Empty(t, rt.installCalls)
	})

	t.Run("rejected_install_is_mutation_error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateUninstalled)
		rt.installErr = errFake
		m := newTestMonitor(t, rt)

		err := m.InstallFeatures(ctx, "web")
		require.ErrorIs(t, err, ErrMutation)
		assert.Contains(t, err.Error(), "failed to install features [web]")
	})

	t.Run("feature_never_started_times_out", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateUninstalled)
		rt.onInstall = func(rt *fakeRuntime, features []Feature) {
			for _, f := range features {
				rt.setFeatureState(f, FeatureStateInstalled)
			}
		}
		m := newTestMonitor(t, rt)

		err := m.InstallFeaturesWithTimeout(ctx, 10*time.Millisecond, "web")
		require.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "features [web] failed to reach state [Started]")
	})

	t.Run("module_wait_follows_feature_wait", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateStarted)
		rt.setModules(Module{Name: "http", State: ModuleStateFailure})
		m := newTestMonitor(t, rt)

		err := m.InstallFeatures(ctx, "web")
		require.ErrorIs(t, err, ErrTerminalState)
		var merr *MonitorError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "install features", merr.Op)
	})
}

func TestMonitor_UninstallFeatures(t *testing.T) {
	ctx := context.Background()

	t.Run("uninstalls_only_installed_features", func(t *testing.T) {
		rt := newFakeRuntime()
		web := rt.addFeature("web", "1.0.0", FeatureStateStarted)
		rt.addFeature("db", "1.0.0", FeatureStateUninstalled)
		rt.onUninstall = func(rt *fakeRuntime, features []Feature) {
			for _, f := range features {
				rt.setFeatureState(f, FeatureStateUninstalled)
			}
		}
		m := newTestMonitor(t, rt)

		require.NoError(t, m.UninstallFeatures(ctx, "web", "db"))
		require.Len(t, rt.uninstallCalls, 1)
		assert.Equal(t, []Feature{web}, rt.uninstallCalls[0])
		assert.True(t, rt.installOpts[0].NoAutoRefresh)
	})

	t.Run("nothing_installed_skips_call", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.addFeature("web", "1.0.0", FeatureStateUninstalled)
		m := newTestMonitor(t, rt)

		require.NoError(t, m.UninstallFeatures(ctx, "web"))
		assert.Empty(t, rt.uninstallCalls)
	})
}

func TestMonitor_WaitForFeatures(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	web := rt.addFeature("web", "1.0.0", FeatureStateInstalled)
	rt.addFeature("web", "2.0.0", FeatureStateStarted)
	time.AfterFunc(10*time.Millisecond, func() { rt.setFeatureState(web, FeatureStateStarted) })
	m := newTestMonitor(t, rt)

	require.NoError(t, m.WaitForFeatures(ctx, FeatureStateStarted, "web"))
	assert.Empty(t, rt.installCalls)

	t.Run("state_query_failure_is_resolution_error", func(t *testing.T) {
		rt := newFakeRuntime()
		rt.features["ghost"] = []Feature{{Name: "ghost", Version: "1.0.0"}}
		m := newTestMonitor(t, rt)

		err := m.WaitForFeatures(ctx, FeatureStateStarted, "ghost")
		require.ErrorIs(t, err, ErrResolution)
		require.ErrorIs(t, err, errNotDefined)
	})
}
