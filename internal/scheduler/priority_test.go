package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestPrioritySetWaitReturnsImmediatelyWhenEmpty(t *testing.T) {
	p := NewPrioritySet()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPrioritySetBlocksWhileNonEmpty(t *testing.T) {
	p := NewPrioritySet()
	p.Enter()

	done := make(chan struct{})
	go func() {
		p.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while the priority set was still non-empty")
	case <-time.After(20 * time.Millisecond):
	}

	p.Leave()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Leave drained the set")
	}
}

func TestPrioritySetWaitObeysContextCancellation(t *testing.T) {
	p := NewPrioritySet()
	p.Enter()
	defer p.Leave()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx); err == nil {
		t.Error("expected Wait to return an error on context deadline")
	}
}
