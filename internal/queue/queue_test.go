package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jnamaya/SAFi-sub001/internal/kv"
)

func online() bool  { return true }
func offline() bool { return false }

// Offline writes must queue without touching the network and return the
// exact QUEUED sentinel.
func TestPostWithQueue_OfflineQueues(t *testing.T) {
	t.Parallel()
	store := kv.NewMemStore()
	var touched int32
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&touched, 1)
		return nil, context.DeadlineExceeded
	})}
	q := New(client, store, offline, nil, Config{})

	out, err := q.PostWithQueue(context.Background(), "http://b/api/conversations/c1", "PATCH", nil, `{"title":"x"}`)
	if err != nil || out.Status != "QUEUED" || !out.Queued() {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
	if atomic.LoadInt32(&touched) != 0 {
		t.Fatalf("network touched while offline")
	}

	pending := q.Pending(context.Background())
	if len(pending) != 1 {
		t.Fatalf("expected one queued entry, got %d", len(pending))
	}
	e := pending[0]
	if e.URL != "http://b/api/conversations/c1" || e.Method != "PATCH" || e.Body != `{"title":"x"}` {
		t.Fatalf("queued entry mismatch: %+v", e)
	}
}

func TestPostWithQueue_SuccessDoesNotQueue(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	q := New(srv.Client(), kv.NewMemStore(), online, nil, Config{})
	out, err := q.PostWithQueue(context.Background(), srv.URL, "POST", nil, `{}`)
	if err != nil || out.Queued() || string(out.Data) != `{"ok":true}` {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
	if len(q.Pending(context.Background())) != 0 {
		t.Fatalf("successful write must not queue")
	}
}

func TestPostWithQueue_ServerErrorQueues(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := New(srv.Client(), kv.NewMemStore(), online, nil, Config{})
	out, err := q.PostWithQueue(context.Background(), srv.URL, "POST", nil, `{}`)
	if err != nil || !out.Queued() {
		t.Fatalf("expected QUEUED on 500: %+v err=%v", out, err)
	}
}

// A 4xx at send time surfaces as an error and queues nothing; replaying
// it could never succeed, and the caller needs the failure to roll back.
func TestPostWithQueue_IrrecoverableSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such conversation", http.StatusNotFound)
	}))
	defer srv.Close()

	q := New(srv.Client(), kv.NewMemStore(), online, nil, Config{})
	out, err := q.PostWithQueue(context.Background(), srv.URL, "PATCH", nil, `{}`)
	if err == nil || out != nil {
		t.Fatalf("expected surfaced error: out=%+v err=%v", out, err)
	}
	if len(q.Pending(context.Background())) != 0 {
		t.Fatalf("irrecoverable write must not queue")
	}
}

// Flush removes confirmed entries and retains failed ones.
func TestFlush_ClearsConfirmedRetainsFailed(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/first" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "oops", http.StatusInternalServerError)
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	q := New(srv.Client(), store, offline, nil, Config{})
	_, _ = q.PostWithQueue(context.Background(), srv.URL+"/first", "POST", nil, `{}`)
	_, _ = q.PostWithQueue(context.Background(), srv.URL+"/second", "POST", nil, `{}`)

	qOnline := New(srv.Client(), store, online, nil, Config{})
	qOnline.Flush(context.Background())

	pending := qOnline.Pending(context.Background())
	if len(pending) != 1 || pending[0].URL != srv.URL+"/second" {
		t.Fatalf("expected only the failed entry retained: %+v", pending)
	}
	if pending[0].Attempts != 1 || pending[0].NotBefore == 0 {
		t.Fatalf("failed entry missing backoff state: %+v", pending[0])
	}
}

// A failed entry inside its backoff window is skipped by the next flush.
func TestFlush_BackoffGate(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	q := New(srv.Client(), store, online, nil, Config{BaseBackoff: time.Hour})
	q.enqueue(context.Background(), srv.URL, "POST", nil, `{}`)

	q.Flush(context.Background())
	q.Flush(context.Background())
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("entry retried inside its backoff window: %d calls", got)
	}
}

// Exhausted entries move to the dead-letter state and stop retrying.
func TestFlush_DeadLetterAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	var dead []Entry
	q := New(srv.Client(), store, online, nil, Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxInterval: time.Millisecond})
	q.OnDeadLetter = func(e Entry) { dead = append(dead, e) }
	q.enqueue(context.Background(), srv.URL, "POST", nil, `{}`)

	for i := 0; i < 4; i++ {
		q.Flush(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	if len(q.Pending(context.Background())) != 0 {
		t.Fatalf("exhausted entry still pending")
	}
	dl := q.DeadLetters(context.Background())
	if len(dl) != 1 || dl[0].State != StateDead {
		t.Fatalf("expected one dead letter: %+v", dl)
	}
	if len(dead) != 1 {
		t.Fatalf("dead-letter callback not invoked")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("dead entry kept retrying: %d calls", got)
	}
}

// A 4xx is irrecoverable: dead-letter on the first flush, no retries.
func TestFlush_IrrecoverableDeadLettersImmediately(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	q := New(srv.Client(), store, online, nil, Config{})
	q.enqueue(context.Background(), srv.URL, "POST", nil, `{}`)
	q.Flush(context.Background())

	dl := q.DeadLetters(context.Background())
	if len(dl) != 1 || dl[0].Attempts != 1 {
		t.Fatalf("expected immediate dead letter on 400: %+v", dl)
	}
}

// A write queued while a flush is on the wire survives the flush's save.
func TestFlush_ConcurrentEnqueueNotLost(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(entered)
			<-release
		}
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := New(srv.Client(), kv.NewMemStore(), online, nil, Config{BaseBackoff: time.Hour})
	q.enqueue(context.Background(), srv.URL+"/slow", "POST", nil, `{}`)

	done := make(chan struct{})
	go func() {
		q.Flush(context.Background())
		close(done)
	}()

	<-entered
	out, err := q.PostWithQueue(context.Background(), srv.URL+"/late", "POST", nil, `{}`)
	if err != nil || !out.Queued() {
		t.Fatalf("mid-flush write: %+v err=%v", out, err)
	}
	close(release)
	<-done

	pending := q.Pending(context.Background())
	if len(pending) != 2 {
		t.Fatalf("mid-flush write lost: %+v", pending)
	}
	if pending[0].URL != srv.URL+"/slow" || pending[1].URL != srv.URL+"/late" {
		t.Fatalf("unexpected pending order: %+v", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("flushed entry lost its backoff state: %+v", pending[0])
	}
}

// Flush preserves enqueue order across persist cycles.
func TestQueuePersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	store := kv.NewMemStore()
	q := New(http.DefaultClient, store, offline, nil, Config{})
	_, _ = q.PostWithQueue(context.Background(), "http://b/1", "POST", nil, "a")
	_, _ = q.PostWithQueue(context.Background(), "http://b/2", "POST", nil, "b")

	q2 := New(http.DefaultClient, store, offline, nil, Config{})
	pending := q2.Pending(context.Background())
	if len(pending) != 2 || pending[0].URL != "http://b/1" || pending[1].URL != "http://b/2" {
		t.Fatalf("order lost across instances: %+v", pending)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
