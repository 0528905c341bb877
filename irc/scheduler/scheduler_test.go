package scheduler

import (
	"testing"
	"time"
)

func TestFireDueRunsOnFirstTick(t *testing.T) {
	s := New(time.Second)
	var ran int
	s.Add(&Job{Name: "job", Interval: 10 * time.Second, Run: func(time.Time) { ran++ }})

	s.fireDue(time.Now())
	if ran != 1 {
		t.Fatalf("ran = %d, want 1 on the first tick regardless of interval", ran)
	}
}

func TestFireDueRespectsInterval(t *testing.T) {
	s := New(time.Second)
	var ran int
	s.Add(&Job{Name: "job", Interval: 10 * time.Second, Run: func(time.Time) { ran++ }})

	base := time.Now()
	s.fireDue(base)
	s.fireDue(base.Add(2 * time.Second))
	if ran != 1 {
		t.Fatalf("ran = %d, want 1 (interval not yet elapsed)", ran)
	}
	s.fireDue(base.Add(11 * time.Second))
	if ran != 2 {
		t.Fatalf("ran = %d, want 2 after the interval elapsed", ran)
	}
}

func TestFireDueRunsMultipleIndependentJobs(t *testing.T) {
	s := New(time.Second)
	var fast, slow int
	s.Add(&Job{Name: "fast", Interval: time.Second, Run: func(time.Time) { fast++ }})
	s.Add(&Job{Name: "slow", Interval: time.Hour, Run: func(time.Time) { slow++ }})

	base := time.Now()
	s.fireDue(base)
	s.fireDue(base.Add(time.Second))
	s.fireDue(base.Add(2 * time.Second))

	if fast != 3 {
		t.Fatalf("fast ran %d times, want 3", fast)
	}
	if slow != 1 {
		t.Fatalf("slow ran %d times, want 1", slow)
	}
}
