package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Initialization(t *testing.T) {
	pm := NewPrometheusMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, pm.GetRegistry())

	families, err := pm.GetRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScansTotal("success")
	pm.IncrementScansTotal("success")
	pm.IncrementScansTotal("error")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.scansTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.scansTotal.WithLabelValues("error")))

	pm.RecordScanDuration(5 * time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.scanDuration))

	pm.IncrementScanErrors("SCAN_FAILED")
	pm.IncrementScanErrors("TIMEOUT")
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanErrors))

	pm.AddFailedToResolve(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.failedToResolve))

	assert.Greater(t, testutil.ToFloat64(pm.lastRun), 0.0)
}

func TestPrometheusMetrics_ParseMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementParsesTotal("success")
	pm.RecordParseDuration(20 * time.Millisecond)
	pm.IncrementHostsParsed("up", 2)
	pm.IncrementHostsParsed("", 1)
	pm.IncrementServicesFound(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.parsesTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.hostsParsed.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.hostsParsed.WithLabelValues("unknown")))
	assert.Equal(t, 5.0, testutil.ToFloat64(pm.servicesFound))
}

func TestPrometheusMetrics_WriteTextfile(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.IncrementScansTotal("success")

	path := filepath.Join(t.TempDir(), "netnmap.prom")
	require.NoError(t, pm.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), `netnmap_scan_total{status="success"} 1`))
}

func TestGetGlobalMetrics(t *testing.T) {
	first := GetGlobalMetrics()
	second := GetGlobalMetrics()
	assert.Same(t, first, second)
}
