package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterIsRegisteredOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg, "", "")

	c1 := r.Counter("orders_total", "orders", "outcome")
	c2 := r.Counter("orders_total", "orders", "outcome")
	c1.Add(1, observability.L("outcome", "success"))
	c2.Bind(observability.L("outcome", "success")).Add(2)

	cv, ok := c1.(*counter)
	require.True(t, ok)
	assert.Equal(t, 3.0, testutil.ToFloat64(cv.v.WithLabelValues("success")))
}

func TestRegistry_Gauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	g := New(reg, "otp", "").Gauge("active_tasks", "active", "kind")

	g.Add(1, observability.L("kind", "poll"))
	g.Add(1, observability.L("kind", "poll"))
	g.Add(-1, observability.L("kind", "poll"))

	gv := g.(*gauge)
	assert.Equal(t, 1.0, testutil.ToFloat64(gv.v.WithLabelValues("poll")))

	g.Set(7, observability.L("kind", "poll"))
	assert.Equal(t, 7.0, testutil.ToFloat64(gv.v.WithLabelValues("poll")))
}
