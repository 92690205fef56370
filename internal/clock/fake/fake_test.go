package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	var order []string
	clk.AfterFunc(30*time.Millisecond, func() { order = append(order, "late") })
	clk.AfterFunc(10*time.Millisecond, func() { order = append(order, "early") })

	clk.Advance(20 * time.Millisecond)
	require.Equal(t, []string{"early"}, order)
	require.Equal(t, 1, clk.Pending())

	clk.Advance(10 * time.Millisecond)
	require.Equal(t, []string{"early", "late"}, order)
	require.Equal(t, time.Unix(0, 0).Add(30*time.Millisecond), clk.Now())
}

func TestAdvanceRunsChainedCallbacks(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	var firedAt []time.Time
	clk.AfterFunc(5*time.Millisecond, func() {
		firedAt = append(firedAt, clk.Now())
		clk.AfterFunc(5*time.Millisecond, func() {
			firedAt = append(firedAt, clk.Now())
		})
	})

	clk.Advance(time.Second)
	require.Len(t, firedAt, 2)
	require.Equal(t, time.Unix(0, 0).Add(5*time.Millisecond), firedAt[0])
	require.Equal(t, time.Unix(0, 0).Add(10*time.Millisecond), firedAt[1])
}

func TestStopPreventsFire(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	fired := false
	timer := clk.AfterFunc(time.Millisecond, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	clk.Advance(time.Second)
	require.False(t, fired)
	require.Zero(t, clk.Pending())
}
