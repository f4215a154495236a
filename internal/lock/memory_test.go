package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMemory_TryLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	release, ok, err := m.TryLock(ctx, "collect:a")
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}

	if _, ok, _ := m.TryLock(ctx, "collect:a"); ok {
		t.Error("expected second lock on the same key to fail")
	}

	releaseB, ok, _ := m.TryLock(ctx, "collect:b")
	if !ok {
		t.Error("expected lock on a different key to succeed")
	}
	releaseB()

	release()
	release() // Second release is a no-op

	if _, ok, _ := m.TryLock(ctx, "collect:a"); !ok {
		t.Error("expected lock to be free after release")
	}
}

func TestMemory_SingleHolderUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := m.TryLock(ctx, "collect:race"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Errorf("expected exactly one holder, got %d", got)
	}
}
