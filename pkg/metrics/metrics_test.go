package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	registry, registerer := InitMetricRegistry("test")
	RegistMetrics(registerer)
	RegistResources(registerer, func() int { return 3 })

	ops := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ops_seconds",
		Help: "ops.",
	}, []string{"method"})
	registerer.MustRegister(ops)
	ops.WithLabelValues("stat").Observe(0.5)
	ops.WithLabelValues("stat").Observe(1.5)

	out := string(Collect(registry))
	assert.Contains(t, out, "govfs_open_resources 3\n")
	assert.Contains(t, out, "govfs_ops_seconds_stat_total 2\n")
	assert.Contains(t, out, "govfs_ops_seconds_stat_sum 2\n")
	assert.True(t, strings.Contains(out, "govfs_uptime "))
	assert.NotContains(t, out, "_test")
}

func TestCollectNil(t *testing.T) {
	assert.Equal(t, "", string(Collect(nil)))
}
