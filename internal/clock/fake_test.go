package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnlyWhenDue(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(2*time.Second, func() { fired++ })

	c.Advance(time.Second)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("one-shot timer fired again: %d", fired)
	}
	if got := c.Now(); !got.Equal(epoch.Add(time.Hour + 2*time.Second)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestFakeAfterFuncDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() on pending timer = false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(100 * time.Millisecond)

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C:
		t.Fatal("tick before interval")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C:
	default:
		t.Fatal("no tick after interval")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C:
		t.Fatal("tick after Stop")
	default:
	}
}
