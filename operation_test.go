package imagecache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeOperation struct {
	cancelled bool
}

func (f *fakeOperation) Cancel() { f.cancelled = true }

func TestCombinedOperationCancelCancelsSubOperation(t *testing.T) {
	op := NewCombinedOperation(nil)
	sub := &fakeOperation{}
	op.SetCacheOperation(sub)

	op.Cancel()

	require.True(t, sub.cancelled)
	require.True(t, op.Cancelled())
}

func TestCombinedOperationCancelIdempotent(t *testing.T) {
	op := NewCombinedOperation(nil)
	calls := 0
	op.SetCancelHook(func() { calls++ })

	op.Cancel()
	op.Cancel()

	require.Equal(t, 1, calls)
}

func TestCombinedOperationSetCancelHookAfterCancelRunsImmediately(t *testing.T) {
	op := NewCombinedOperation(nil)
	op.Cancel()

	ran := false
	op.SetCancelHook(func() { ran = true })

	require.True(t, ran)
}

func TestCombinedOperationIDIsAssigned(t *testing.T) {
	op := NewCombinedOperation(nil)
	require.NotEmpty(t, op.ID.String())
}

func TestCombinedOperationCancelObservesMetric(t *testing.T) {
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{Name: "cancelled"})
	op := NewCombinedOperation(&Metrics{OperationsCancelled: cancelled})

	op.Cancel()
	op.Cancel()

	require.Equal(t, float64(1), counterValue(t, cancelled))
}
