package avatar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meszmate/gateway/internal/handles"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) emit(up Update) {
	r.mu.Lock()
	r.updates = append(r.updates, up)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFetchSequential(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	rec := &recorder{}
	q := NewQueue("test/1.0", func() bool { return true }, rec.emit, nil)

	var targets []Target
	for i := 1; i <= 5; i++ {
		targets = append(targets, Target{Handle: handles.Handle(i), Token: "t", URL: srv.URL})
	}
	q.Enqueue(context.Background(), targets)

	waitFor(t, func() bool { return len(rec.snapshot()) == 5 })

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max concurrent fetches = %d, want 1", got)
	}
	for _, up := range rec.snapshot() {
		if up.ContentType != "image/jpeg" {
			t.Errorf("content type = %q", up.ContentType)
		}
		if string(up.Data) != "jpeg-bytes" {
			t.Errorf("data = %q", up.Data)
		}
	}
}

func TestFetchSkipsFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rec := &recorder{}
	q := NewQueue("", func() bool { return true }, rec.emit, nil)

	q.Enqueue(context.Background(), []Target{
		{Handle: 1, URL: srv.URL},
		{Handle: 2, URL: srv.URL},
	})

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	ups := rec.snapshot()
	if ups[0].Handle != 2 {
		t.Fatalf("surviving update for handle %d, want 2", ups[0].Handle)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 2 })
}

func TestDisconnectDropsRemaining(t *testing.T) {
	var connected int32 = 1
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			// Session ends while this download is in flight.
			atomic.StoreInt32(&connected, 0)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rec := &recorder{}
	q := NewQueue("", func() bool { return atomic.LoadInt32(&connected) == 1 }, rec.emit, nil)

	q.Enqueue(context.Background(), []Target{
		{Handle: 1, URL: srv.URL},
		{Handle: 2, URL: srv.URL},
		{Handle: 3, URL: srv.URL},
		{Handle: 4, URL: srv.URL},
	})

	// Only the first download completes; the second finished its HTTP
	// exchange after disconnect and must not surface, the rest are dropped.
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 2 })
	time.Sleep(100 * time.Millisecond)

	ups := rec.snapshot()
	if len(ups) != 1 || ups[0].Handle != 1 {
		t.Fatalf("updates = %+v, want exactly handle 1", ups)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}
}

func TestStopInterrupts(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	defer close(release)

	rec := &recorder{}
	q := NewQueue("", func() bool { return true }, rec.emit, nil)

	q.Enqueue(context.Background(), []Target{
		{Handle: 1, URL: srv.URL},
		{Handle: 2, URL: srv.URL},
	})

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	q.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d requests after Stop, want 1", got)
	}
	if ups := rec.snapshot(); len(ups) != 0 {
		t.Fatalf("updates after Stop = %+v", ups)
	}
}

func TestEnqueueDropsEmptyURLs(t *testing.T) {
	rec := &recorder{}
	q := NewQueue("", func() bool { return true }, rec.emit, nil)

	q.Enqueue(context.Background(), []Target{{Handle: 1, URL: ""}})

	time.Sleep(50 * time.Millisecond)
	if ups := rec.snapshot(); len(ups) != 0 {
		t.Fatalf("updates = %+v, want none", ups)
	}
}
