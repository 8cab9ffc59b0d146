package coupler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedInterval(cgeT float64, calls *int) func() (float64, error) {
	return func() (float64, error) {
		*calls++
		return cgeT, nil
	}
}

func TestNegotiator_CatchupSequence(t *testing.T) {
	n := NewNegotiator()
	assert.Equal(t, CatchupPending, n.State())

	calls := 0
	negotiate := fixedInterval(10, &calls)
	var dts []float64
	var catchups []bool
	for i := 0; i < 4; i++ {
		s, err := n.Next(3, negotiate)
		require.NoError(t, err)
		dts = append(dts, s.Dt)
		catchups = append(catchups, s.Catchup)
		assert.LessOrEqual(t, s.FgeT, s.CgeT)
	}
	assert.Equal(t, []float64{3, 3, 3, 1}, dts)
	assert.Equal(t, []bool{false, false, false, true}, catchups)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CatchupPending, n.State())
	fgeT, cgeT := n.Times()
	assert.Equal(t, 10.0, fgeT)
	assert.Equal(t, 10.0, cgeT)

	// The call after catchup renegotiates and restarts the sub-cycle
	s, err := n.Next(3, negotiate)
	require.NoError(t, err)
	assert.True(t, s.Renegotiated)
	assert.Equal(t, 3.0, s.FgeT)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CatchupDone, n.State())

	_, err = n.Next(3, negotiate)
	require.NoError(t, err)
	assert.Equal(t, Normal, n.State())
}

func TestNegotiator_NeverOvershoots(t *testing.T) {
	n := NewNegotiator()
	intervals := []float64{1, 0.37, 2.5, 0.01}
	k := 0
	negotiate := func() (float64, error) {
		c := intervals[k%len(intervals)]
		k++
		return c, nil
	}
	elapsed := 0.0
	for i, dt := range []float64{0.3, 0.07, 0.5, 0.011, 1.3, 0.2, 0.2, 0.2, 0.05, 3, 0.001, 0.4} {
		s, err := n.Next(dt, negotiate)
		require.NoError(t, err)
		assert.LessOrEqual(t, s.FgeT, s.CgeT, "step %d", i)
		assert.LessOrEqual(t, s.Dt, dt, "step %d", i)
		assert.Greater(t, s.Dt, 0.0, "step %d", i)
		if s.Renegotiated {
			elapsed = 0
		}
		elapsed += s.Dt
		assert.InDelta(t, elapsed, s.FgeT, 1e-12, "step %d", i)
	}
}

func TestNegotiator_DtLandsExactly(t *testing.T) {
	n := NewNegotiator()
	calls := 0
	s, err := n.Next(5, fixedInterval(5, &calls))
	require.NoError(t, err)
	assert.True(t, s.Catchup)
	assert.Equal(t, 5.0, s.Dt)
}

func TestNegotiator_InvalidInput(t *testing.T) {
	n := NewNegotiator()
	calls := 0
	_, err := n.Next(0, fixedInterval(1, &calls))
	assert.True(t, errors.Is(err, ErrInvalidTimestep))
	assert.Equal(t, 0, calls)

	_, err = n.Next(1, fixedInterval(-1, &calls))
	assert.True(t, errors.Is(err, ErrInvalidTimestep))

	boom := errors.New("peer gone")
	_, err = n.Next(1, func() (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, CatchupPending, n.State(), "failed negotiation leaves catchup pending")
}
