package voice

import (
	"reflect"
	"sync"
	"testing"
)

func TestGateRunsWaitersOnceInOrder(t *testing.T) {
	g := NewInteractionGate()
	var got []int
	g.OnOpen(func() { got = append(got, 1) })
	g.OnOpen(func() { got = append(got, 2) })

	if g.Opened() {
		t.Fatal("gate open before any gesture")
	}
	g.Open()
	g.Open()

	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("waiters ran %v, want [1 2]", got)
	}

	ran := false
	g.OnOpen(func() { ran = true })
	if !ran {
		t.Fatal("waiter registered after open did not run immediately")
	}
}

func TestGateConcurrentOpen(t *testing.T) {
	g := NewInteractionGate()
	var mu sync.Mutex
	calls := 0
	g.OnOpen(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Open()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("waiter ran %d times, want 1", calls)
	}
}
