package observability_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/sessiond/pkg/observability"
	"github.com/aretw0/sessiond/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats struct {
	stats ports.Stats
	err   error
}

func (s staticStats) Stats(ctx context.Context) (ports.Stats, error) {
	return s.stats, s.err
}

func TestCollector(t *testing.T) {
	c := observability.NewCollector(staticStats{stats: ports.Stats{
		OwnedEntryCount:       3,
		BackupEntryCount:      2,
		OwnedEntryMemoryCost:  300,
		BackupEntryMemoryCost: 200,
	}})

	expected := `
# HELP sessiond_storage_entries Number of session entries held by the local member
# TYPE sessiond_storage_entries gauge
sessiond_storage_entries{type="backup"} 2
sessiond_storage_entries{type="owned"} 3
# HELP sessiond_storage_memory_cost_bytes Memory cost of session entries held by the local member
# TYPE sessiond_storage_memory_cost_bytes gauge
sessiond_storage_memory_cost_bytes{type="backup"} 200
sessiond_storage_memory_cost_bytes{type="owned"} 300
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestCollector_SamplingErrorYieldsNothing(t *testing.T) {
	c := observability.NewCollector(staticStats{err: errors.New("down")})
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestMetrics(t *testing.T) {
	m := observability.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.Observe("lookup", "hit")
	m.Observe("lookup", "hit")
	m.Observe("lookup", "miss")
	m.ObserveCoalesced()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("lookup", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Coalesced))

	// A nil receiver is a valid no-op.
	var none *observability.Metrics
	none.Observe("lookup", "hit")
	none.ObserveCoalesced()
}
