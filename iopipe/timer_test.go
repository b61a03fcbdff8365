package iopipe

import (
	"testing"
	"time"
)

func TestTimerFiresAfterDeadline(t *testing.T) {
	tm := NewTimer(2 * time.Millisecond)
	defer tm.Stop()

	fired := make(chan struct{}, 1)
	tm.After(5*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timer did not fire")
	}
}

func TestTimerHandleStopPreventsFire(t *testing.T) {
	tm := NewTimer(2 * time.Millisecond)
	defer tm.Stop()

	fired := make(chan struct{}, 1)
	h := tm.After(10*time.Millisecond, func() { fired <- struct{}{} })
	h.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer fired anyway")
	case <-time.After(50 * time.Millisecond):
	}
}
