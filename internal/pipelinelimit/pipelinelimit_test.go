package pipelinelimit

import "testing"

func TestDecrementLatchesStopped(t *testing.T) {
	l := &Limit{remaining: 3}
	for i := 0; i < 5; i++ {
		l.Decrement(1)
	}
	if !l.Stopped() {
		t.Fatal("expected stopped to latch true")
	}
	// further decrements keep it latched
	l.Decrement(1)
	if !l.Stopped() {
		t.Fatal("expected stopped to remain true")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	key := "db-handle"

	if r.Get(key) != nil {
		t.Fatal("expected no entry before Init")
	}
	l := r.Init(key, 2)
	if r.Get(key) != l {
		t.Fatal("expected Get to return the same Limit")
	}
	r.Clear(key)
	if r.Get(key) != nil {
		t.Fatal("expected entry removed after Clear")
	}
}
