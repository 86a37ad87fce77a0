package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.Recompute("full", 20*time.Millisecond, 12, nil)
	r.Recompute("full", time.Millisecond, 0, errors.New("boom"))
	r.Allocation("allocate", 3, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.recomputeTotal.WithLabelValues("full", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.recomputeTotal.WithLabelValues("full", "error")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.valuationsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.allocationTotal.WithLabelValues("allocate", "ok")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Recompute("full", time.Second, 1, nil)
	r.Allocation("allocate", 1, nil)
}

func TestNewRecorderRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}
