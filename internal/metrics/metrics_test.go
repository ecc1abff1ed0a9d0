package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequestLabelsSuccess(t *testing.T) {
	RequestsTotal.Reset()
	ObserveRequest("go", "textDocument/hover", time.Now(), nil, false)
	assert.Equal(t, float64(1), testutil.ToFloat64(RequestsTotal.WithLabelValues("go", "textDocument/hover", "success")))
}

func TestObserveRequestLabelsTimeoutOverError(t *testing.T) {
	RequestsTotal.Reset()
	RequestTimeouts.Reset()
	ObserveRequest("go", "textDocument/definition", time.Now(), errors.New("deadline exceeded"), true)

	assert.Equal(t, float64(1), testutil.ToFloat64(RequestsTotal.WithLabelValues("go", "textDocument/definition", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(RequestTimeouts.WithLabelValues("go", "textDocument/definition")))
}

func TestObserveSpawnOnlyObservesDurationOnSuccess(t *testing.T) {
	SpawnAttempts.Reset()
	ObserveSpawn("python", time.Now(), errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(SpawnAttempts.WithLabelValues("python", "error")))
}

func TestSetAliveTogglesGauge(t *testing.T) {
	SetAlive("rust", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(AliveClients.WithLabelValues("rust")))

	SetAlive("rust", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(AliveClients.WithLabelValues("rust")))
}
