package zaplogger

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_BindsFixedAndScopedFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core), observability.F("component", "scheduler"))

	l.With(observability.F("order_id", "o-1")).Warn("poll_cycle_failed",
		observability.F("error", errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "poll_cycle_failed", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "scheduler", ctx["component"])
	assert.Equal(t, "o-1", ctx["order_id"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestNew_NilBaseIsSafe(t *testing.T) {
	t.Parallel()

	l := New(nil)
	assert.NotPanics(t, func() { l.Info("noop") })
}
