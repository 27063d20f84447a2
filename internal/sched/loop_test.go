package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestDoRunsInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 10; i++ {
		if err := l.Do(context.Background(), func() { got = append(got, i) }); err != nil {
			t.Fatal(err)
		}
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("Expected tasks in submission order, got %v", got)
		}
	}
}

func TestDoSerializesGoroutines(t *testing.T) {
	l, _ := startLoop(t)

	// unsynchronized on purpose: the loop is the only writer
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Do(context.Background(), func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	l.Do(context.Background(), func() { final = counter })
	if final != 800 {
		t.Errorf("Expected 800, got %d", final)
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	l, _ := startLoop(t)

	l.Do(context.Background(), func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("loop should keep running after a panicking task")
	}
}

func TestAfterFuncRunsOnLoop(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	if l.Pending() != 1 {
		t.Errorf("Expected 1 pending, got %d", l.Pending())
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}

	// Pending is updated on the loop just before the callback runs
	var pending int
	l.Do(context.Background(), func() { pending = l.Pending() })
	if pending != 0 {
		t.Errorf("Expected 0 pending after firing, got %d", pending)
	}
}

func TestTimerStop(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	if !tm.Stop() {
		t.Fatal("Stop should report the callback as pending")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	if l.Pending() != 0 {
		t.Errorf("Expected 0 pending, got %d", l.Pending())
	}

	select {
	case <-fired:
		t.Error("stopped callback ran")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStoppedLoop(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)

	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if tm := l.AfterFunc(time.Millisecond, func() {}); tm.Stop() {
		t.Error("timer on a stopped loop should never be pending")
	}
}
