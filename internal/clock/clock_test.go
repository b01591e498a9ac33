package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	var order []string
	fake.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	fake.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	fake.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	fake.Advance(3 * time.Second)
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, start.Add(3*time.Second), fake.Now())
	require.Equal(t, 1, fake.Pending())

	fake.Advance(2 * time.Second)
	require.Equal(t, []string{"a", "b", "c"}, order)
	require.Equal(t, 0, fake.Pending())
}

func TestFake_StopPreventsCallback(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	fake.Advance(time.Minute)
	require.False(t, fired)
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		fake.AfterFunc(10*time.Minute, tick)
	}
	fake.AfterFunc(10*time.Minute, tick)

	fake.Advance(35 * time.Minute)
	require.Equal(t, 3, ticks)
}

func TestFake_CallbackSeesDeadlineAsNow(t *testing.T) {
	start := time.Unix(100, 0)
	fake := NewFake(start)

	var seen time.Time
	fake.AfterFunc(7*time.Second, func() { seen = fake.Now() })
	fake.Advance(time.Minute)

	require.Equal(t, start.Add(7*time.Second), seen)
}
