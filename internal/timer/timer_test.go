package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimeoutFires(t *testing.T) {
	var timedOut, terminated int32
	done := make(chan struct{})

	tm := New("t1", 30*time.Millisecond,
		WithTickInterval(5*time.Millisecond),
		WithOnTimeoutReached(func(*Timer) { atomic.StoreInt32(&timedOut, 1) }),
		WithOnTerminated(func(*Timer) {
			atomic.StoreInt32(&terminated, 1)
			close(done)
		}),
	)
	tm.Start()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never terminated")
	}

	if atomic.LoadInt32(&timedOut) != 1 {
		t.Error("onTimeoutReached did not fire")
	}
	if atomic.LoadInt32(&terminated) != 1 {
		t.Error("onTerminated did not fire")
	}
}

func TestStopBeforeTimeoutSkipsTimeoutCallback(t *testing.T) {
	var timedOut int32
	done := make(chan struct{})

	tm := New("t2", time.Hour,
		WithTickInterval(5*time.Millisecond),
		WithOnTimeoutReached(func(*Timer) { atomic.StoreInt32(&timedOut, 1) }),
		WithOnTerminated(func(*Timer) { close(done) }),
	)
	tm.Start()
	time.Sleep(20 * time.Millisecond)
	tm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never terminated after Stop")
	}

	if atomic.LoadInt32(&timedOut) != 0 {
		t.Error("onTimeoutReached should not fire on cancellation")
	}
}

func TestPauseSuspendsExpiry(t *testing.T) {
	var iterations int32
	expired := make(chan struct{})

	tm := New("t3", 20*time.Millisecond,
		WithTickInterval(5*time.Millisecond),
		WithOnIterate(func(*Timer) { atomic.AddInt32(&iterations, 1) }),
		WithOnTimeoutReached(func(*Timer) { close(expired) }),
	)
	tm.Start()
	tm.Pause()

	select {
	case <-expired:
		t.Fatal("paused timer should not expire")
	case <-time.After(80 * time.Millisecond):
	}

	if atomic.LoadInt32(&iterations) == 0 {
		t.Error("onIterate should keep firing while paused")
	}
	tm.Stop()
}

func TestResetRestartsFullDuration(t *testing.T) {
	var mu sync.Mutex
	var timeoutAt time.Time
	start := time.Now()
	done := make(chan struct{})

	tm := New("t4", 40*time.Millisecond,
		WithTickInterval(5*time.Millisecond),
		WithOnTimeoutReached(func(*Timer) {
			mu.Lock()
			timeoutAt = time.Now()
			mu.Unlock()
		}),
		WithOnTerminated(func(*Timer) { close(done) }),
	)
	tm.Start()
	time.Sleep(25 * time.Millisecond)
	tm.Pause()
	time.Sleep(25 * time.Millisecond)
	tm.Reset()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never terminated")
	}

	mu.Lock()
	elapsed := timeoutAt.Sub(start)
	mu.Unlock()

	// Reset restarts from the full duration, not the remaining time;
	// total elapsed should be roughly pause-window + full duration.
	if elapsed < 60*time.Millisecond {
		t.Errorf("expected reset to restart full duration, elapsed only %v", elapsed)
	}
}

func TestStopNeverStartedTerminatesSynchronously(t *testing.T) {
	terminated := false
	tm := New("t5", time.Hour, WithOnTerminated(func(*Timer) { terminated = true }))
	tm.Stop()
	if !terminated {
		t.Error("Stop on a never-started timer should still invoke onTerminated")
	}
	select {
	case <-tm.Done():
	default:
		t.Error("Done channel should be closed")
	}
}

func TestDoubleStopIsNoop(t *testing.T) {
	var count int32
	done := make(chan struct{})
	tm := New("t6", 50*time.Millisecond,
		WithTickInterval(5*time.Millisecond),
		WithOnTerminated(func(*Timer) {
			atomic.AddInt32(&count, 1)
			close(done)
		}),
	)
	tm.Start()
	tm.Stop()
	tm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never terminated")
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("onTerminated should fire exactly once, fired %d times", count)
	}
}
