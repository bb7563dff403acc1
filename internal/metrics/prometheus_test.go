//go:build !noprom

package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromRecorderCounts(t *testing.T) {
	registry := prom.NewRegistry()
	p := newPromRecorder()
	p.register(registry)

	p.IncSession("committed")
	p.IncSession("committed")
	p.IncSession("conflicted")
	p.IncResolution("no_match")
	p.IncRejection("ontology_violation")
	p.ObservePoolStats(2, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.sessions.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessions.WithLabelValues("conflicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.resolutions.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rejections.WithLabelValues("ontology_violation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.poolInUse))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestTimeOpUsesCurrentRecorder(t *testing.T) {
	p := newPromRecorder()
	SetRecorder(p)
	defer SetRecorder(nil)

	done := TimeOp("db_test")
	done(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.dbTotal.WithLabelValues("db_test", "true")))
}

func TestInitFromEnvDisabled(t *testing.T) {
	t.Setenv("METRICS_PROMETHEUS", "")
	require.NoError(t, InitFromEnv())
	_, ok := Default().(discard)
	assert.True(t, ok)
}
