package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/atlasauth"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot atlasauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() atlasauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: atlasauth.MetricsSnapshot{
			Counters: map[atlasauth.MetricID]uint64{
				atlasauth.MetricSignInSuccess:   7,
				atlasauth.MetricChallengeReplay: 1,
			},
			Histograms: map[atlasauth.MetricID][]uint64{
				atlasauth.MetricPasswordVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func gather(t *testing.T, c prom.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prom.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollectDisabledEngineOnlyExportsDropped(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: atlasauth.MetricsSnapshot{
			Counters:   map[atlasauth.MetricID]uint64{},
			Histograms: map[atlasauth.MetricID][]uint64{},
		},
	})

	assert.Equal(t, 1, testutil.CollectAndCount(exp))
}

func TestCollectCountersAndHistogram(t *testing.T) {
	families := gather(t, NewPrometheusExporterFromSource(populated()))

	signIn := families["atlasauth_signin_success_total"]
	require.NotNil(t, signIn)
	assert.Equal(t, dto.MetricType_COUNTER, signIn.GetType())
	assert.Equal(t, 7.0, signIn.GetMetric()[0].GetCounter().GetValue())

	latency := families["atlasauth_password_verify_seconds"]
	require.NotNil(t, latency)
	h := latency.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(36), h.GetSampleCount())
	require.Len(t, h.GetBucket(), 7)
	assert.Equal(t, 0.025, h.GetBucket()[0].GetUpperBound())
	assert.Equal(t, uint64(1), h.GetBucket()[0].GetCumulativeCount())
	assert.Equal(t, uint64(28), h.GetBucket()[6].GetCumulativeCount())

	dropped := families["atlasauth_audit_dropped_total"]
	require.NotNil(t, dropped)
	assert.Equal(t, 2.0, dropped.GetMetric()[0].GetCounter().GetValue())
}

func TestHandlerServesTextFormat(t *testing.T) {
	srv := httptest.NewServer(NewPrometheusExporterFromSource(populated()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, "atlasauth_signin_success_total 7"), out)
	assert.True(t, strings.Contains(out, `atlasauth_password_verify_seconds_bucket{le="+Inf"} 36`), out)
	assert.True(t, strings.Contains(out, "atlasauth_audit_dropped_total 2"), out)
}

func TestCollectNilSource(t *testing.T) {
	exp := NewPrometheusExporterFromSource(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(exp))
}
