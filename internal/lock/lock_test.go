package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	r := NewRegistry()

	release, err := r.Acquire(context.Background(), Key("contact1", "conn1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()

	// Key must be reacquirable after release.
	release, err = r.Acquire(context.Background(), Key("contact1", "conn1"))
	if err != nil {
		t.Fatalf("reacquire error = %v", err)
	}
	release()
}

func TestContendedAcquireTimesOut(t *testing.T) {
	r := NewRegistry()
	key := Key("contact1", "conn1")

	release, err := r.Acquire(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, key)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("contended Acquire() error = %v, want ErrTimeout", err)
	}
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	r := NewRegistry()

	r1, err := r.Acquire(context.Background(), Key("contact1", "conn1"))
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := r.Acquire(ctx, Key("contact2", "conn1"))
	if err != nil {
		t.Errorf("Acquire() on distinct key error = %v", err)
	} else {
		r2()
	}
}

func TestReleaseIdempotent(t *testing.T) {
	r := NewRegistry()

	release, err := r.Acquire(context.Background(), Key("contact1", "conn1"))
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // must not unlock someone else's hold

	release2, err := r.Acquire(context.Background(), Key("contact1", "conn1"))
	if err != nil {
		t.Fatal(err)
	}
	defer release2()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Acquire(ctx, Key("contact1", "conn1")); !errors.Is(err, ErrTimeout) {
		t.Errorf("double release broke mutual exclusion: err = %v", err)
	}
}

func TestSerializesConcurrentHolders(t *testing.T) {
	r := NewRegistry()
	key := Key("contact1", "conn1")

	var inside, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > max {
				max = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("max concurrent holders = %d, want 1", max)
	}

	// Registry must not leak entries.
	r.mu.Lock()
	n := len(r.locks)
	r.mu.Unlock()
	if n != 0 {
		t.Errorf("registry holds %d entries after release, want 0", n)
	}
}
