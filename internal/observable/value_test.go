package observable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueNotifiesOnChange(t *testing.T) {
	t.Parallel()

	v := New(1)
	var got []int
	unsubscribe := v.Subscribe(func(n int) { got = append(got, n) })
	defer unsubscribe()

	require.True(t, v.Set(2))
	require.False(t, v.Set(2))
	require.True(t, v.Set(3))

	require.Equal(t, []int{2, 3}, got)
	require.Equal(t, 3, v.Get())
}

func TestValueUnsubscribe(t *testing.T) {
	t.Parallel()

	v := New("a")
	calls := 0
	unsubscribe := v.Subscribe(func(string) { calls++ })
	v.Set("b")
	unsubscribe()
	unsubscribe()
	v.Set("c")

	require.Equal(t, 1, calls)
	require.Zero(t, v.Subscribers())
}

func TestValueSubscriberMayReadDuringNotify(t *testing.T) {
	t.Parallel()

	v := New(0)
	var seen int
	v.Subscribe(func(int) { seen = v.Get() })
	v.Set(7)

	require.Equal(t, 7, seen)
}

func TestValueNilSubscriber(t *testing.T) {
	t.Parallel()

	v := New(0)
	unsubscribe := v.Subscribe(nil)
	unsubscribe()
	require.Zero(t, v.Subscribers())
}
