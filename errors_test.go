package bootready

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorError(t *testing.T) {
	sentinels := map[ErrorKind]error{
		KindResolution:    ErrResolution,
		KindMutation:      ErrMutation,
		KindTerminalState: ErrTerminalState,
		KindTimeout:       ErrTimeout,
		KindInterrupted:   ErrInterrupted,
	}

	for kind, sentinel := range sentinels {
		t.Run(kind.String(), func(t *testing.T) {
			err := newError(kind, "op", errFake, "failed for [%s]", "x")
			require.ErrorIs(t, err, sentinel)
			require.ErrorIs(t, err, errFake)
			for other, otherSentinel := range sentinels {
				if other != kind {
					assert.NotErrorIs(t, err, otherSentinel)
				}
			}
		})
	}
}

func TestMonitorError_Error(t *testing.T) {
	err := newError(KindTimeout, "wait for modules", nil, "modules failed to reach Active within %s", "1s")
	assert.Equal(t, "wait for modules: modules failed to reach Active within 1s", err.Error())

	err.Diagnostics = []ModuleDiagnostic{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, "wait for modules: modules failed to reach Active within 1s (2 inactive modules)", err.Error())

	wrapped := newError(KindMutation, "", errFake, "failed to install features [web]")
	assert.Equal(t, "failed to install features [web]: "+errFake.Error(), wrapped.Error())
}

func TestAsMonitorError(t *testing.T) {
	original := newError(KindTimeout, "op", nil, "late")
	assert.Same(t, original, asMonitorError(original, KindResolution, "other", "ignored"))

	wrapped := asMonitorError(errFake, KindResolution, "op", "check failed")
	var merr *MonitorError
	require.True(t, errors.As(wrapped, &merr))
	assert.Equal(t, KindResolution, merr.Kind)
	assert.ErrorIs(t, wrapped, errFake)
}
