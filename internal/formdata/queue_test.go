package formdata

import (
	"sync"
	"testing"
	"time"
)

func TestSerialQueue_FIFO(t *testing.T) {
	q := newSerialQueue()
	defer q.close()

	var (
		mu  sync.Mutex
		got []int
	)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		if !q.push(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatal("push on open queue returned false")
		}
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("task order broken at %d: got %d", i, v)
		}
	}
}

func TestSerialQueue_CloseDiscardsPending(t *testing.T) {
	q := newSerialQueue()

	block := make(chan struct{})
	ran := make(chan struct{})
	q.push(func() {
		close(ran)
		<-block
	})
	<-ran

	executed := false
	q.push(func() { executed = true })
	q.close()
	close(block)

	select {
	case <-q.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after close")
	}
	if executed {
		t.Error("pending task ran after close")
	}
	if q.push(func() {}) {
		t.Error("push on closed queue returned true")
	}
}

func TestSerialQueue_CloseIdempotent(t *testing.T) {
	q := newSerialQueue()
	q.close()
	q.close()
	select {
	case <-q.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
