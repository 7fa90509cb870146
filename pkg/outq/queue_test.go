package outq

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New()
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("TryDequeue on empty queue returned a message")
	}
	for i := 0; i < 1000; i++ {
		q.Enqueue(i)
	}
	if n := q.Len(); n != 1000 {
		t.Fatalf("Len() = %d; expected 1000", n)
	}
	for i := 0; i < 1000; i++ {
		v, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("TryDequeue returned empty at %d", i)
		}
		if v.(int) != i {
			t.Fatalf("TryDequeue returned %v at position %d", v, i)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Errorf("queue not empty after draining")
	}
	st := q.Stats()
	if st.Enqueued != 1000 || st.Dequeued != 1000 || st.Pending != 0 || st.Dropped != 0 {
		t.Errorf("unexpected stats after drain: %+v", st)
	}
}

func TestQueueInterleavedCompaction(t *testing.T) {
	q := New()
	next := 0
	expect := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 100; i++ {
			q.Enqueue(next)
			next++
		}
		for i := 0; i < 70; i++ {
			v, ok := q.TryDequeue()
			if !ok || v.(int) != expect {
				t.Fatalf("round %d: got (%v, %v); expected %d", round, v, ok, expect)
			}
			expect++
		}
	}
	if q.Len() != next-expect {
		t.Errorf("Len() = %d; expected %d", q.Len(), next-expect)
	}
}

func TestQueueDropOldest(t *testing.T) {
	q := New(WithMaxPending(3))
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		q.Enqueue(s)
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped() = %d; expected 2", q.Dropped())
	}
	for _, expected := range []string{"C", "D", "E"} {
		v, ok := q.TryDequeue()
		if !ok || v.(string) != expected {
			t.Fatalf("got (%v, %v); expected %s", v, ok, expected)
		}
	}
}

func TestQueueReadySignal(t *testing.T) {
	q := New()
	select {
	case <-q.Ready():
		t.Fatalf("Ready fired on an empty queue")
	default:
	}
	q.Enqueue("A")
	q.Enqueue("B")
	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatalf("Ready did not fire after Enqueue")
	}
	// wakeups are coalesced
	select {
	case <-q.Ready():
		t.Errorf("Ready fired twice for a single drain cycle")
	default:
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 500
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		pair := v.([2]int)
		if pair[1] != last[pair[0]]+1 {
			t.Fatalf("producer %d message %d out of order (last %d)", pair[0], pair[1], last[pair[0]])
		}
		last[pair[0]] = pair[1]
	}
	for p, n := range last {
		if n != perProducer-1 {
			t.Errorf("producer %d: last message %d; expected %d", p, n, perProducer-1)
		}
	}
}

func TestQueueAcquireSingleConsumer(t *testing.T) {
	q := New()
	release, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Acquire(ctx); err == nil {
		t.Fatalf("second Acquire succeeded while the first consumer held the queue")
	}

	acquired := make(chan func())
	go func() {
		r, err := q.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire after release failed: %s", err)
			close(acquired)
			return
		}
		acquired <- r
	}()

	q.Enqueue("pending")
	<-q.Ready()
	release()
	release()

	select {
	case r := <-acquired:
		if r != nil {
			// the leftover message must wake the next consumer
			select {
			case <-q.Ready():
			case <-time.After(time.Second):
				t.Errorf("next consumer was not woken for pending messages")
			}
			r()
		}
	case <-time.After(time.Second):
		t.Fatalf("waiting consumer did not acquire the queue after release")
	}
}
